/*
DESCRIPTION
  Brcstat drives a BRC core over a trace of frame sizes read from a file or
  generated synthetically, logging every non-OK verdict and optionally
  plotting the QP trajectory with non-OK verdicts marked.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package brcstat is a bare bones program that drives a brc.Core over a
// recorded or synthetic trace of per-frame coded sizes, for offline tuning
// and regression comparison of the controller's behavior.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ausocean/utils/logging"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/brc/brc"
)

// Logging related constants.
const (
	logPath      = "brcstat.log"
	logMaxSize   = 10 // MB
	logMaxBackup = 3
	logMaxAge    = 28 // days
	logVerbosity = logging.Debug
	logSuppress  = false
)

func main() {
	tracePath := flag.String("trace", "", "Path to a newline-delimited coded-frame-size (bytes) trace; empty generates a synthetic CBR trace.")
	watch := flag.Bool("watch", false, "Re-run the trace whenever the trace file changes.")
	plotPath := flag.String("plot", "", "Write a QP/verdict plot to this PNG path; empty disables plotting.")
	kbps := flag.Uint("kbps", 1000, "Target kbps for the synthetic trace.")
	fps := flag.Uint("fps", 30, "Frame rate for the synthetic trace.")
	frames := flag.Uint("frames", 300, "Frame count for the synthetic trace.")
	flag.Parse()

	fileLog := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logMaxSize,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAge,
	}
	l := logging.New(logVerbosity, io.MultiWriter(fileLog, os.Stderr), logSuppress)

	vp := brc.VideoParam{
		CodecID:           brc.AVC,
		RateControlMethod: brc.CBR,
		TargetKbps:        uint32(*kbps),
		MaxKbps:           uint32(*kbps),
		Width:             1920,
		Height:            1080,
		FrameRate:         brc.FrameRate{Num: uint32(*fps), Den: 1},
		GopPicSize:        *fps,
		GopRefDist:        1,
	}

	run := func() []sample {
		core, err := brc.NewCore(vp)
		if err != nil {
			l.Fatal("could not initialise brc core", "error", err)
		}
		core.Logger = l

		sizes, err := loadTrace(*tracePath, vp, *frames)
		if err != nil {
			l.Fatal("could not load trace", "error", err)
		}

		return drive(core, sizes, l)
	}

	samples := run()
	l.Info("trace complete", "frames", len(samples))

	if *plotPath != "" {
		if err := plotSamples(samples, *plotPath); err != nil {
			l.Error("could not write plot", "error", err)
		} else {
			l.Info("wrote plot", "path", *plotPath)
		}
	}

	if *watch && *tracePath != "" {
		watchTrace(*tracePath, l, func() {
			samples = run()
			if *plotPath != "" {
				if err := plotSamples(samples, *plotPath); err != nil {
					l.Error("could not write plot", "error", err)
				}
			}
		})
	}
}

// sample is one frame's driven result, retained for post-run plotting.
type sample struct {
	qp      int
	verdict brc.Verdict
}

// drive feeds sizes (in bytes) through core in order, as successive
// non-recoded frames, logging every non-OK verdict.
func drive(core *brc.Core, sizes []uint32, l logging.Logger) []sample {
	samples := make([]sample, 0, len(sizes))
	for i, sz := range sizes {
		ft := brc.FrameP
		if i == 0 || i%int(30) == 0 {
			ft = brc.FrameI
		}
		fp := brc.FrameParam{
			EncodedOrder:          uint32(i),
			DisplayOrder:          uint32(i),
			FrameType:             ft,
			CodedFrameSizeInBytes: sz,
		}

		fc, err := core.GetFrameCtrl(fp)
		if err != nil {
			l.Error("GetFrameCtrl failed", "frame", i, "error", err)
			continue
		}

		status, err := core.Update(fp, fc.QpY)
		if err != nil {
			l.Error("Update failed", "frame", i, "error", err)
			continue
		}
		if status.BRCStatus != brc.VerdictOK {
			l.Debug("recode verdict", "frame", i, "verdict", status.BRCStatus.String(), "qp", fc.QpY)
		}

		samples = append(samples, sample{qp: fc.QpY, verdict: status.BRCStatus})
	}
	return samples
}

// loadTrace reads one coded-frame-size-in-bytes value per line from path,
// or, when path is empty, generates a synthetic steady-CBR trace of n
// frames sized to vp's target bitrate.
func loadTrace(path string, vp brc.VideoParam, n uint) ([]uint32, error) {
	if path == "" {
		bytesPerFrame := uint32(vp.TargetKbps*1000) / 8 / vp.FrameRate.Num
		sizes := make([]uint32, n)
		for i := range sizes {
			sizes[i] = bytesPerFrame
		}
		return sizes, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var sizes []uint32
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseUint(line, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("brcstat: invalid trace line %q: %w", line, err)
		}
		sizes = append(sizes, uint32(v))
	}
	return sizes, sc.Err()
}
