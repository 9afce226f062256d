// Package deps discovers the external binaries the defacer shells out to.
package deps
