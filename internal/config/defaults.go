package config

const (
	defaultStateDir      = "~/.local/share/deface"
	defaultDataDir       = "~/.local/share/deface/data"
	defaultTemplateName  = "mean_reg2mean.nii.gz"
	defaultFacemaskName  = "facemask.nii.gz"
	defaultFlirtBinary   = "flirt"
	defaultCostFunction  = "mutualinfo"
	defaultOutputSuffix  = "_defaced"
	defaultHistoryDBName = "history.db"
	defaultLogFormat     = "console"
	defaultLogLevel      = "info"
)

// CostFunctions lists the FLIRT cost functions accepted by registration.cost.
var CostFunctions = []string{"mutualinfo", "corratio", "normcorr", "normmi", "leastsq", "labeldiff", "bbr"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
		},
		Assets: Assets{
			DataDir: defaultDataDir,
		},
		Registration: Registration{
			FlirtBinary: defaultFlirtBinary,
			Cost:        defaultCostFunction,
		},
		Output: Output{
			Suffix: defaultOutputSuffix,
		},
		History: History{
			Enabled: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
