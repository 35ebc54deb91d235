package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/yangl1996/qrfountain/txqr"
)

// a chunk line can exceed bufio.Scanner's default token size
const maxLineSize = 1 << 20

var decodeCmd = &cobra.Command{
	Use:   "decode [FILE|-]",
	Short: "rebuild a payload from scanned chunks, one per line",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDecode,
}

func init() {
	decodeCmd.Flags().String("out", "", "write the payload to `file` instead of stdout")
	bindFlags(decodeCmd)
}

func runDecode(c *cobra.Command, args []string) error {
	var in io.Reader = c.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	dec := txqr.NewDecoder(txqr.WithLogger(log))
	errs := decodeLines(dec, in)
	if !dec.IsCompleted() {
		return errs
	}
	data, err := dec.Data()
	if err != nil {
		return err
	}
	for _, err := range multierr.Errors(errs) {
		log.Debug().Err(err).Msg("skipped chunk")
	}
	st := dec.Stats()
	log.Info().
		Uint32("transfer", st.TransferID).
		Int("bytes", len(data)).
		Int("accepted", st.Accepted).
		Int("duplicates", st.Duplicates).
		Int("rejected", st.Rejected).
		Msg("transfer complete")

	if out := viper.GetString(setting(c, "out")); out != "" {
		return os.WriteFile(out, data, 0o644)
	}
	_, err = c.OutOrStdout().Write(data)
	return err
}

// decodeLines feeds every non-empty line of r to dec until the transfer
// completes. The returned error combines the reasons individual lines were
// not used and, if the transfer did not complete, why.
func decodeLines(dec *txqr.Decoder, r io.Reader) error {
	var errs error
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line += 1
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if _, err := dec.DecodeChunk(text); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("line %d: %w", line, err))
			if errors.Is(err, txqr.ErrChecksumMismatch) {
				return errs
			}
		}
		if dec.IsCompleted() {
			return errs
		}
	}
	if err := scanner.Err(); err != nil {
		return multierr.Append(errs, err)
	}
	st := dec.Stats()
	return multierr.Append(errs, fmt.Errorf("%w: %d of %d blocks after %d lines", txqr.ErrNotReady, st.Resolved, st.Blocks, line))
}
