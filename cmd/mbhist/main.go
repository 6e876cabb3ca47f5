// Command mbhist prints a peak-height histogram of a recorded CSV file.
//
//	mbhist [-bins 1024] [-rows 40] run.csv threshold
//
// Only events with peak_height above threshold are counted.
package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/rickgao/mbfilter/internal/histogram"
)

func main() {
	bins := flag.Int("bins", 1024, "number of histogram bins")
	rows := flag.Int("rows", 40, "maximum rows printed (bins are merged to fit)")
	width := flag.Int("width", 60, "bar width in characters")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: mbhist [flags] file.csv threshold")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	threshold, err := strconv.ParseUint(flag.Arg(1), 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mbhist: threshold %q is not a non-negative integer\n", flag.Arg(1))
		os.Exit(2)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "mbhist:", err)
		os.Exit(1)
	}
	defer f.Close()

	peaks, err := loadPeaks(f, threshold)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mbhist:", err)
		os.Exit(1)
	}

	snap, err := build(peaks, *bins)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mbhist:", err)
		os.Exit(1)
	}
	if err := snap.Render(os.Stdout, *rows, *width); err != nil {
		fmt.Fprintln(os.Stderr, "mbhist:", err)
		os.Exit(1)
	}
}

// loadPeaks reads the peak_height column and keeps values above
// threshold.
func loadPeaks(r io.Reader, threshold uint64) ([]uint64, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := slices.Index(header, "peak_height")
	if col < 0 {
		return nil, errors.New("no peak_height column")
	}

	var peaks []uint64
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return peaks, nil
		}
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseUint(rec[col], 10, 64)
		if err != nil {
			line, _ := cr.FieldPos(col)
			return nil, fmt.Errorf("line %d: peak_height %q: %w", line, rec[col], err)
		}
		if v > threshold {
			peaks = append(peaks, v)
		}
	}
}

// build bins peaks over their own range.
func build(peaks []uint64, bins int) (histogram.Snapshot, error) {
	if len(peaks) == 0 {
		return histogram.Snapshot{}, errors.New("no events above threshold")
	}
	lo, hi := slices.Min(peaks), slices.Max(peaks)

	h, err := histogram.New(lo, hi+1, bins)
	if err != nil {
		return histogram.Snapshot{}, err
	}
	h.Add(peaks...)
	return h.Snapshot(), nil
}
