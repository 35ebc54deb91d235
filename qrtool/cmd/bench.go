package cmd

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yangl1996/qrfountain/txqr"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "measure coding overhead and decoder throughput without loss",
	Args:  cobra.NoArgs,
	RunE:  runBench,
}

func init() {
	f := benchCmd.Flags()
	f.String("payload", "1MiB", "payload size")
	f.Int("block-size", 512, "bytes of payload per chunk")
	f.Bool("seeded", false, "leave block indices out of the chunks")
	f.Bool("coded-only", true, "skip the systematic chunks so that every block is recovered by peeling")
	f.Int64("seed", 1, "seed of the random payload")
	bindFlags(benchCmd)
}

func runBench(c *cobra.Command, _ []string) error {
	size, err := units.RAMInBytes(viper.GetString(setting(c, "payload")))
	if err != nil {
		return fmt.Errorf("invalid payload size: %w", err)
	}
	payload := make([]byte, size)
	rand.New(rand.NewSource(viper.GetInt64(setting(c, "seed")))).Read(payload)

	var opts []txqr.EncoderOption
	if viper.GetBool(setting(c, "seeded")) {
		opts = append(opts, txqr.WithSeeded())
	}
	enc, err := txqr.NewEncoder(payload, viper.GetInt(setting(c, "block-size")), opts...)
	if err != nil {
		return err
	}
	k := enc.Header().Blocks

	log.Info().Int("blocks", k).Msg("preparing chunks")
	first := uint32(0)
	if viper.GetBool(setting(c, "coded-only")) {
		first = uint32(k)
	}
	// generous upper bound so that decoding time excludes encoding
	chunks := make([]string, 0, 3*k)
	for seq := first; seq < first+uint32(3*k); seq++ {
		raw, err := enc.Chunk(seq)
		if err != nil {
			return err
		}
		chunks = append(chunks, raw)
	}

	dec := txqr.NewDecoder(txqr.WithLogger(log))
	ncw := 0
	start := time.Now()
	for _, raw := range chunks {
		dec.DecodeChunk(raw)
		ncw += 1
		if dec.IsCompleted() {
			break
		}
	}
	dur := time.Since(start)
	if !dec.IsCompleted() {
		return fmt.Errorf("not decoded after %d chunks: %w", ncw, txqr.ErrNotReady)
	}
	fmt.Fprintf(c.OutOrStdout(), "%d chunks, %.2f overhead, %.3f seconds, %s/s\n",
		ncw, float64(ncw)/float64(k), dur.Seconds(), units.HumanSize(float64(size)/dur.Seconds()))
	return nil
}
