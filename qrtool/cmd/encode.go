package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yangl1996/qrfountain/txqr"
)

var encodeCmd = &cobra.Command{
	Use:   "encode FILE",
	Short: "print the chunks of FILE, one per line",
	Long: `Print the chunks of FILE, one per line, as they would be shown in the
frames of an animated QR code. The first chunks carry the file blocks in order,
the rest are fountain-coded.`,
	Args: cobra.ExactArgs(1),
	RunE: runEncode,
}

func init() {
	encodeCmd.Flags().Int("block-size", 256, "bytes of payload per chunk")
	encodeCmd.Flags().Int("count", 0, "number of chunks to print, 0 for twice the number of blocks")
	encodeCmd.Flags().Bool("seeded", false, "leave block indices out of the chunks")
	encodeCmd.Flags().Uint32("transfer-id", 0, "transfer id, 0 to derive it from the file content")
	bindFlags(encodeCmd)
}

func runEncode(c *cobra.Command, args []string) error {
	payload, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var opts []txqr.EncoderOption
	if id := viper.GetUint32(setting(c, "transfer-id")); id != 0 {
		opts = append(opts, txqr.WithTransferID(id))
	}
	if viper.GetBool(setting(c, "seeded")) {
		opts = append(opts, txqr.WithSeeded())
	}
	enc, err := txqr.NewEncoder(payload, viper.GetInt(setting(c, "block-size")), opts...)
	if err != nil {
		return err
	}
	h := enc.Header()
	count := viper.GetInt(setting(c, "count"))
	if count <= 0 {
		count = 2 * h.Blocks
	}
	log.Info().
		Str("file", args[0]).
		Uint32("transfer", h.TransferID).
		Int("blocks", h.Blocks).
		Int("chunks", count).
		Msg("encoding")

	w := bufio.NewWriter(c.OutOrStdout())
	for i := 0; i < count; i++ {
		raw, err := enc.Next()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, raw)
	}
	return w.Flush()
}
