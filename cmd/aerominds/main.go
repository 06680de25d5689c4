// Command aerominds turns a drone video into an untextured triangle mesh:
// frame sampling, COLMAP structure from motion and multi-view stereo, then
// Poisson surface reconstruction.
package main

import "os"

func main() {
	os.Exit(execute())
}
