package cmd

import (
	"fmt"
	"io"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sarchlab/softmmu/config"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print the effective guest configuration.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			printInfo(cmd.OutOrStdout(), cfg)

			return nil
		},
	}
}

func printInfo(w io.Writer, cfg config.Config) {
	c := cfg.VM

	order := "little"
	if c.BigEndian {
		order = "big"
	}

	fmt.Fprintf(w, "page size:       %s (2^%d)\n",
		humanize.IBytes(c.PageSize()), c.Log2PageSize)
	fmt.Fprintf(w, "page mask:       0x%x\n", c.PageMask())
	fmt.Fprintf(w, "modes:           %d\n", c.NumModes)
	fmt.Fprintf(w, "guest width:     %d bits, %s endian\n", c.AddrBits, order)
	fmt.Fprintf(w, "address space:   2^%d\n", c.EffectiveSpaceBits())
	fmt.Fprintf(w, "RAM:             %s\n", humanize.IBytes(cfg.RAMSize))

	if c.DirectMap {
		fmt.Fprintf(w, "translation:     direct map\n")
		fmt.Fprintf(w, "guest base:      0x%x\n", uint64(c.GuestBase))
		fmt.Fprintf(w, "reserved VA:     0x%x\n", c.ReservedVA)

		return
	}

	footprint := c.TableSize() * uint64(c.NumModes) *
		uint64(unsafe.Sizeof(tlb.Entry{}))

	fmt.Fprintf(w, "translation:     cache\n")
	fmt.Fprintf(w, "slots per mode:  %s\n",
		humanize.Comma(int64(c.TableSize())))
	fmt.Fprintf(w, "table memory:    %s\n", humanize.IBytes(footprint))
	fmt.Fprintf(w, "atomic tags:     %t\n", c.AtomicTags)
	fmt.Fprintf(w, "tag flags:       invalid=0x%x mmio=0x%x notdirty=0x%x\n",
		tlb.FlagInvalid, tlb.FlagMMIO, tlb.FlagNotDirty)
}
