// Command qrtool encodes files into animated QR chunk streams, decodes scanned
// chunk streams, and simulates lossy scans.
package main

import (
	"github.com/yangl1996/qrfountain/qrtool/cmd"
)

func main() {
	cmd.Execute()
}
