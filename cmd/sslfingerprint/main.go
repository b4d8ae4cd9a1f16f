// sslfingerprint prints the fingerprint of a certificate.
//
// Usage:
//
//   sslfingerprint -cert <pem> [-trust] [-profile <dir>]
//
//   sslfingerprint -help
//
// With -trust, the fingerprint is also added to the trusted servers
// store of the profile, so that clients using the profile accept the
// server presenting the certificate.
//
// Examples:
//
//   ./sslfingerprint -cert synergy.pem
//   ./sslfingerprint -cert synergy.pem -trust -profile ~/.securesocket
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/kvmshare/securesocket"
	"github.com/kvmshare/securesocket/cmd/common"
	"github.com/kvmshare/securesocket/internal/fingerprint"
	"github.com/kvmshare/securesocket/internal/tlsx"
	"github.com/m-lab/go/rtx"
)

var (
	flagCert  = flag.String("cert", "", "PEM file containing the certificate")
	flagTrust = flag.Bool("trust", false, "Add the fingerprint to the trust store")
)

func main() {
	flag.Parse()
	if *common.FlagHelp {
		flag.CommandLine.SetOutput(os.Stdout)
		fmt.Printf("Usage: sslfingerprint [flags]\n")
		flag.PrintDefaults()
		fmt.Printf("\nExamples:\n")
		fmt.Printf("%s\n", "  ./sslfingerprint -cert synergy.pem -trust")
		return
	}
	log.SetHandler(cli.Default)
	if *common.FlagVerbose {
		log.SetLevel(log.DebugLevel)
	}
	cert, err := tlsx.LoadCertificate(*flagCert)
	rtx.Must(err, "cannot load certificate")
	digest, err := fingerprint.Compute(cert)
	rtx.Must(err, "cannot compute fingerprint")
	fp := fingerprint.Format(digest)
	fmt.Printf("%s\n", fp)
	if !*flagTrust {
		return
	}
	profile := *common.FlagProfile
	if profile == "" {
		profile, err = securesocket.DefaultProfileDir()
		rtx.Must(err, "cannot determine profile directory")
	}
	store := fingerprint.NewStore(profile)
	rtx.Must(store.Add(fp), "cannot update trust store")
	log.WithField("store", store.Path).Info("fingerprint trusted")
}
