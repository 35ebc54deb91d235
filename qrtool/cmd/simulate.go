package cmd

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yangl1996/qrfountain/simulator"
	"github.com/yangl1996/qrfountain/txqr"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "estimate transfer time of a camera scanning a cycling display",
	Args:  cobra.NoArgs,
	RunE:  runSimulate,
}

func init() {
	d := simulator.DefaultConfig()
	f := simulateCmd.Flags()
	f.String("payload", units.BytesSize(float64(d.PayloadSize)), "payload size, such as 16KiB")
	f.Int("block-size", d.BlockSize, "bytes of payload per chunk")
	f.Bool("seeded", d.Seeded, "leave block indices out of the chunks")
	f.Float64("fps", d.FPS, "frames shown per second")
	f.Float64("scan-rate", d.ScanRate, "frames read by the camera per second")
	f.Float64("loss", d.Loss, "probability that a read yields nothing")
	f.Float64("corruption", d.Corruption, "probability that a read is damaged")
	f.Int("trials", d.Trials, "number of trials")
	f.Int64("seed", d.Seed, "seed of the first trial")
	f.Duration("max-duration", d.MaxDuration, "give up a trial after this much simulated time")
	bindFlags(simulateCmd)
}

func simulateConfig(c *cobra.Command) (simulator.Config, error) {
	size, err := units.RAMInBytes(viper.GetString(setting(c, "payload")))
	if err != nil {
		return simulator.Config{}, fmt.Errorf("invalid payload size: %w", err)
	}
	cfg := simulator.Config{
		PayloadSize: int(size),
		BlockSize:   viper.GetInt(setting(c, "block-size")),
		Seeded:      viper.GetBool(setting(c, "seeded")),
		FPS:         viper.GetFloat64(setting(c, "fps")),
		ScanRate:    viper.GetFloat64(setting(c, "scan-rate")),
		Loss:        viper.GetFloat64(setting(c, "loss")),
		Corruption:  viper.GetFloat64(setting(c, "corruption")),
		Trials:      viper.GetInt(setting(c, "trials")),
		Seed:        viper.GetInt64(setting(c, "seed")),
		MaxDuration: viper.GetDuration(setting(c, "max-duration")),
	}
	return cfg, cfg.Validate()
}

func runSimulate(c *cobra.Command, _ []string) error {
	cfg, err := simulateConfig(c)
	if err != nil {
		return err
	}
	log.Info().
		Int("payload", cfg.PayloadSize).
		Int("block_size", cfg.BlockSize).
		Float64("fps", cfg.FPS).
		Float64("scan_rate", cfg.ScanRate).
		Float64("loss", cfg.Loss).
		Float64("corruption", cfg.Corruption).
		Msg("starting simulation")

	declog := log.With().Str("component", "decoder").Logger()
	results, err := simulator.RunAll(cfg, log, txqr.WithLogger(declog))
	if err != nil {
		return err
	}
	s := simulator.Summarize(results)
	w := c.OutOrStdout()
	fmt.Fprintf(w, "# %d of %d trials completed within %v\n", s.Completed, s.Trials, cfg.MaxDuration)
	fmt.Fprintln(w, "# seconds to complete:", s.Seconds)
	fmt.Fprintln(w, "# frames per block:", s.Overhead)
	fmt.Fprintln(w, "# damaged reads:", s.Damaged)
	return nil
}
