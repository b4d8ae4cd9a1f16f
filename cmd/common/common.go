// Package common contains common flags
package common

import "flag"

var (
	// FlagHelp is used to request the help screen
	FlagHelp = flag.Bool("help", false, "Print usage")

	// FlagProfile is the profile directory containing the trust store
	FlagProfile = flag.String("profile", "", "Profile directory (default: user config dir)")

	// FlagVerbose enables debug logging
	FlagVerbose = flag.Bool("verbose", false, "Log debug messages")
)
