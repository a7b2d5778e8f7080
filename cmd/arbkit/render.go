/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/kentakayama/arbkit/internal/domain/model"
	"github.com/kentakayama/arbkit/internal/flash"
)

var (
	colorTitle = color.New(color.Bold, color.FgHiMagenta).SprintFunc()
	colorField = color.New(color.Bold, color.FgHiBlue).SprintFunc()
	colorOK    = color.New(color.FgGreen).SprintFunc()
	colorBad   = color.New(color.Bold, color.FgRed).SprintFunc()
	colorWarn  = color.New(color.FgYellow).SprintFunc()
)

func renderRecords(w io.Writer, records []model.PartitionRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tLUN\tSTART\tSECTORS\tFILE\tMANIFEST")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\n", r.Label, r.LUN, r.StartSector, r.SectorCount, r.Filename, r.SourceManifest)
	}
	tw.Flush()
}

func renderMetadata(w io.Writer, path string, md *model.SigningMetadata) {
	fmt.Fprintf(w, "%s:\n", colorTitle(path))
	opt := func(name string, v any) {
		switch x := v.(type) {
		case *uint64:
			if x == nil {
				return
			}
			v = *x
		case *string:
			if x == nil {
				return
			}
			v = *x
		}
		fmt.Fprintf(w, "  %s: %v\n", colorField(name), v)
	}
	opt("Partition Name", md.PartitionName)
	opt("Partition Size", md.PartitionSizeBytes)
	opt("Original Image Size", md.OriginalImageSize)
	opt("Rollback Index", md.RollbackIndex)
	opt("Rollback Index Location", md.RollbackIndexLocation)
	opt("Algorithm", md.Algorithm)
	opt("Public Key (sha1)", md.PublicKeyFingerprint)
	opt("Flags", md.Flags)
	if md.Salt != nil {
		opt("Salt", hex.EncodeToString(md.Salt))
	}
	if len(md.Properties) > 0 {
		fmt.Fprintf(w, "  %s: %d\n", colorField("Properties"), len(md.Properties))
		for _, p := range md.Properties {
			fmt.Fprintf(w, "    %s: %s\n", p.Key, p.Value)
		}
	}
}

func renderComparison(w io.Writer, cmp model.RollbackComparison) {
	status := cmp.Status.String()
	switch cmp.Status {
	case model.StatusMatch:
		status = colorOK(status)
	case model.StatusNeedsPatch:
		status = colorWarn(status)
	default:
		status = colorBad(status)
	}
	fmt.Fprintf(w, "%s: %s\n", colorField("Anti-rollback status"), status)

	labels := make([]string, 0, len(cmp.ReferenceIndices))
	for l := range cmp.ReferenceIndices {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		cand := "-"
		if v, ok := cmp.CandidateIndices[l]; ok {
			cand = fmt.Sprint(v)
		}
		fmt.Fprintf(w, "  %s: device %d, new %s\n", colorField(l), cmp.ReferenceIndices[l], cand)
	}
}

func renderPatchReport(w io.Writer, rep *flash.PatchReport) {
	if rep == nil || len(rep.Results) == 0 {
		return
	}
	for _, r := range rep.Results {
		action := colorWarn("patched")
		if !r.Patched {
			action = colorOK("copied")
		}
		fmt.Fprintf(w, "  %s: %s %d -> %d  %s\n", colorField(r.Label), action, r.PreviousIndex, r.RollbackIndex, r.OutputPath)
	}
	if rep.ReceiptPath != "" {
		fmt.Fprintf(w, "%s: %s\n", colorField("Receipt"), rep.ReceiptPath)
	}
	fmt.Fprintf(w, "%s: %s\n", colorField("Session"), rep.SessionUUID)
}

func renderKeys(w io.Writer, keys []*model.SigningKey) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tFINGERPRINT\tPATH")
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", k.Label, k.Fingerprint, k.KeyPath)
	}
	tw.Flush()
}

func renderSession(w io.Writer, st *flash.SessionStatus, detail func([]byte) string) {
	s := st.Session
	state := colorWarn("in progress or interrupted")
	switch {
	case s.Failure != "":
		state = colorBad("failed: " + s.Failure)
	case s.CompletedAt != nil:
		state = colorOK("completed " + s.CompletedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "%s %s\n", colorTitle(s.Operation), s.UUID)
	fmt.Fprintf(w, "  %s: %s\n", colorField("Started"), s.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  %s: %s\n", colorField("State"), state)
	for _, m := range st.Milestones {
		fmt.Fprintf(w, "  %s %s\n", m.CreatedAt.Format(time.TimeOnly), colorField(m.Step))
		if d := detail(m.Detail); d != "" {
			fmt.Fprintf(w, "    %s\n", d)
		}
	}
}
