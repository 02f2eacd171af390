package version

// Version is the current version of codedrop, set at build time with
//
//	go build -ldflags="-X 'github.com/BioHazard786/codedrop/internal/version.Version=v1.0.0'"
var Version = "dev"
