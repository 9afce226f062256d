// Package testsupport holds helpers shared by package tests: configs rooted
// in temporary directories, synthetic NIfTI volumes, stub binaries on PATH and
// a ready ledger store.
package testsupport
