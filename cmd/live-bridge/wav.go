package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-live-bridge/pkg/gateway/live/wav"
)

type wavOptions struct {
	descriptor string
	in         string
	out        string
}

func newWAVCmd() *cobra.Command {
	opts := &wavOptions{}
	cmd := &cobra.Command{
		Use:   "wav",
		Short: "Wrap raw PCM in a WAV container",
		Long: `Wrap raw little-endian PCM in a WAV container.

The descriptor uses the same MIME form the live bridge receives from the
model, for example "audio/pcm;rate=24000". Missing fields default to
24 kHz, 16-bit, mono.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWAV(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.descriptor, "descriptor", "audio/pcm;rate=24000", "PCM format descriptor")
	cmd.Flags().StringVar(&opts.in, "in", "", "raw PCM input file")
	cmd.Flags().StringVar(&opts.out, "out", "", "WAV output file")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func runWAV(cmd *cobra.Command, opts *wavOptions) error {
	raw, err := os.ReadFile(opts.in)
	if err != nil {
		return fmt.Errorf("read pcm: %w", err)
	}
	params := wav.ParseDescriptor(opts.descriptor)
	container := wav.Container(raw, params)
	// The data chunk length is 32 bits wide.
	n, ok := wav.DataLen(container)
	if !ok || n != len(raw) {
		return fmt.Errorf("pcm input of %d bytes does not fit a wav container", len(raw))
	}
	if err := os.WriteFile(opts.out, container, 0o644); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d bytes of PCM at %d Hz, %d channel(s), %d-bit\n",
		opts.out, n, params.SampleRateHz, params.Channels, params.BitsPerSample)
	return nil
}
