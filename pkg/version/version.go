package version

// Version is the application version, overridden at build time with
// -ldflags "-X slowburn/pkg/version.Version=...".
var Version = "v0.3.0"
