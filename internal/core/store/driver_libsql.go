//go:build cgo

package store

// go-libsql only builds with cgo; without it the libsql driver is not registered.
import _ "github.com/tursodatabase/go-libsql"
