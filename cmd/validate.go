package cmd

import (
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/spf13/cobra"

	"github.com/smazurov/mediabus/internal/bus/registry"
)

// ValidateEncodersCmd reports which encoders and decoders the local
// FFmpeg/libav build actually supports, the same capability probe the
// registry runs lazily on first use, surfaced standalone for operators
// diagnosing a codec selection problem.
var ValidateEncodersCmd = &cobra.Command{
	Use:   "validate-encoders",
	Short: "Report compiled hardware and software encoders/decoders",
	Long:  `Probes "ffmpeg -encoders"/"-decoders" and prints which candidates the codec capability registry would select for H.264 and H.265.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		quiet, _ := cmd.Flags().GetBool("quiet")

		reg := registry.New()
		codecs := map[string]astiav.CodecID{
			"h264": astiav.CodecIDH264,
			"hevc": astiav.CodecIDHevc,
		}

		for _, name := range []string{"h264", "hevc"} {
			id := codecs[name]

			candidate, fallback, err := reg.SelectEncoder(id, "")
			if err != nil {
				fmt.Printf("%s: no usable encoder (%v)\n", name, err)
				continue
			}
			fmt.Printf("%s: encoder=%s family=%s fallback=%v\n", name, candidate.Name, candidate.Family, fallback)

			if !quiet {
				if dec, ok := reg.SelectDecoder(id); ok {
					fmt.Printf("%s: hardware decoder=%s family=%s\n", name, dec.Name, dec.Family)
				} else {
					fmt.Printf("%s: no hardware decoder compiled, software decode only\n", name)
				}
			}
		}

		if !quiet {
			fmt.Println("compiled encoders matching h264:", registry.CompiledEncoderNames("h264"))
			fmt.Println("compiled encoders matching hevc:", registry.CompiledEncoderNames("hevc"))
		}
		return nil
	},
}

func init() {
	ValidateEncodersCmd.Flags().BoolP("quiet", "q", false, "Suppress decoder and compiled-name listings")
}
