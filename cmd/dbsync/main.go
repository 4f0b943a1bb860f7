// Command dbsync keeps a live database and a version-controlled repository
// of SQL backups in step.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
