package handlers

import (
	"encoding/json"
	"net/http"
	"runtime"
	"runtime/debug"
)

// AppVersion is injected from main via SetVersionInfo
var (
	AppName      = "syncrelay"
	AppVersion   = "dev"
	AppCommit    = "unknown"
	AppBuildDate = "unknown"
)

// SetVersionInfo sets the version information for the handler
func SetVersionInfo(version, commit, buildDate string) {
	AppVersion = version
	AppCommit = commit
	AppBuildDate = buildDate
}

// VersionResponse represents the version information response
type VersionResponse struct {
	App          AppInfo     `json:"app"`
	Dependencies DepInfo     `json:"dependencies"`
	Runtime      RuntimeInfo `json:"runtime"`
}

// AppInfo contains application version details
type AppInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// DepInfo lists the versions of the modules that shape relay behavior.
type DepInfo struct {
	Gofulmen string `json:"gofulmen"`
	Libsql   string `json:"libsql"`
	SQLite   string `json:"sqlite"`
	Pgx      string `json:"pgx"`
}

// RuntimeInfo contains runtime environment information
type RuntimeInfo struct {
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
}

// VersionHandler handles version information requests
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	response := VersionResponse{
		App: AppInfo{
			Name:      AppName,
			Version:   AppVersion,
			Commit:    AppCommit,
			BuildDate: AppBuildDate,
			GoVersion: runtime.Version(),
		},
		Dependencies: DependencyVersions(),
		Runtime: RuntimeInfo{
			Platform:      runtime.GOOS + "/" + runtime.GOARCH,
			NumCPU:        runtime.NumCPU(),
			NumGoroutines: runtime.NumGoroutine(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

func DependencyVersions() DepInfo {
	deps := DepInfo{
		Gofulmen: "unknown",
		Libsql:   "unknown",
		SQLite:   "unknown",
		Pgx:      "unknown",
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return deps
	}

	for _, mod := range info.Deps {
		switch mod.Path {
		case "github.com/fulmenhq/gofulmen":
			deps.Gofulmen = mod.Version
		case "github.com/tursodatabase/go-libsql":
			deps.Libsql = mod.Version
		case "modernc.org/sqlite":
			deps.SQLite = mod.Version
		case "github.com/jackc/pgx/v5":
			deps.Pgx = mod.Version
		}
	}
	return deps
}
