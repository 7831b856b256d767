package db

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"slotdb/pkg/storage/page"
)

// CommandParser parses one shell command and runs it against the Engine.
type CommandParser struct {
	Engine *Engine
	Output io.Writer
}

func NewCommandParser(engine *Engine, output io.Writer) *CommandParser {
	return &CommandParser{Engine: engine, Output: output}
}

var (
	reHelp       = regexp.MustCompile(`(?i)^help$`)
	reAlloc      = regexp.MustCompile(`(?i)^alloc$`)
	reInsertInto = regexp.MustCompile(`(?i)^insert\s+into\s+(-?\d+)\s+(.+)$`)
	reInsert     = regexp.MustCompile(`(?i)^insert\s+(.+)$`)
	reGet        = regexp.MustCompile(`(?i)^get\s+(-?\d+)\s+(-?\d+)$`)
	reDelete     = regexp.MustCompile(`(?i)^delete\s+(-?\d+)\s+(-?\d+)$`)
	reUpdate     = regexp.MustCompile(`(?i)^update\s+(-?\d+)\s+(-?\d+)\s+(.+)$`)
	reScan       = regexp.MustCompile(`(?i)^scan$`)
	rePage       = regexp.MustCompile(`(?i)^page\s+(-?\d+)$`)
	reFlush      = regexp.MustCompile(`(?i)^flush$`)
	reStats      = regexp.MustCompile(`(?i)^stats$`)
)

// ParseAndExecute runs a single command line.
func (p *CommandParser) ParseAndExecute(cmd string) error {
	cmd = strings.TrimSpace(cmd)
	cmd = strings.TrimSuffix(cmd, ";")

	switch {
	case reHelp.MatchString(cmd):
		p.printHelp()
		return nil

	case reAlloc.MatchString(cmd):
		id, err := p.Engine.Allocate()
		if err != nil {
			return err
		}
		fmt.Fprintf(p.Output, "Allocated page %d.\n", id)
		return nil

	case reInsertInto.MatchString(cmd):
		m := reInsertInto.FindStringSubmatch(cmd)
		id, err := parsePageID(m[1])
		if err != nil {
			return err
		}
		rid, err := p.Engine.InsertInto(id, value(m[2]))
		if err != nil {
			return err
		}
		fmt.Fprintf(p.Output, "Inserted %s.\n", rid)
		return nil

	case reInsert.MatchString(cmd):
		m := reInsert.FindStringSubmatch(cmd)
		rid, err := p.Engine.Insert(value(m[1]))
		if err != nil {
			return err
		}
		fmt.Fprintf(p.Output, "Inserted %s.\n", rid)
		return nil

	case reGet.MatchString(cmd):
		m := reGet.FindStringSubmatch(cmd)
		rid, err := parseRecordID(m[1], m[2])
		if err != nil {
			return err
		}
		rec, err := p.Engine.Get(rid)
		if err != nil {
			return err
		}
		fmt.Fprintf(p.Output, "%s %s\n", rid, rec)
		return nil

	case reDelete.MatchString(cmd):
		m := reDelete.FindStringSubmatch(cmd)
		rid, err := parseRecordID(m[1], m[2])
		if err != nil {
			return err
		}
		if err := p.Engine.Delete(rid); err != nil {
			return err
		}
		fmt.Fprintf(p.Output, "Deleted %s.\n", rid)
		return nil

	case reUpdate.MatchString(cmd):
		m := reUpdate.FindStringSubmatch(cmd)
		rid, err := parseRecordID(m[1], m[2])
		if err != nil {
			return err
		}
		newRID, err := p.Engine.Update(rid, value(m[3]))
		if err != nil {
			return err
		}
		fmt.Fprintf(p.Output, "Updated %s, now at %s.\n", rid, newRID)
		return nil

	case reScan.MatchString(cmd):
		return p.handleScan()

	case rePage.MatchString(cmd):
		m := rePage.FindStringSubmatch(cmd)
		id, err := parsePageID(m[1])
		if err != nil {
			return err
		}
		return p.Engine.DescribePage(id, p.Output)

	case reFlush.MatchString(cmd):
		if err := p.Engine.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(p.Output, "Flushed.")
		return nil

	case reStats.MatchString(cmd):
		p.printStats()
		return nil

	default:
		return fmt.Errorf("syntax error or unknown command: %s", cmd)
	}
}

func (p *CommandParser) printHelp() {
	fmt.Fprintln(p.Output, "--- slotdb help ---")
	fmt.Fprintln(p.Output, "1.  alloc")
	fmt.Fprintln(p.Output, "2.  insert <data>")
	fmt.Fprintln(p.Output, "3.  insert into <page> <data>")
	fmt.Fprintln(p.Output, "4.  get <page> <slot>")
	fmt.Fprintln(p.Output, "5.  delete <page> <slot>")
	fmt.Fprintln(p.Output, "6.  update <page> <slot> <data>")
	fmt.Fprintln(p.Output, "7.  scan")
	fmt.Fprintln(p.Output, "8.  page <page>")
	fmt.Fprintln(p.Output, "9.  flush")
	fmt.Fprintln(p.Output, "10. stats")
}

func (p *CommandParser) handleScan() error {
	rows, err := p.Engine.ScanAll()
	if err != nil {
		return err
	}
	for _, r := range rows {
		fmt.Fprintln(p.Output, r)
	}
	fmt.Fprintf(p.Output, "(%d records)\n", len(rows))
	return nil
}

func (p *CommandParser) printStats() {
	s := p.Engine.Stats()
	fmt.Fprintf(p.Output, "Pages in file:  %d\n", s.PageCount)
	fmt.Fprintf(p.Output, "Pool size:      %d\n", s.PoolSize)
	fmt.Fprintf(p.Output, "Resident:       %d\n", s.Resident)
	fmt.Fprintf(p.Output, "Pinned:         %d\n", s.Pinned)
	fmt.Fprintf(p.Output, "Dirty:          %d\n", s.Dirty)
}

// value strips one pair of surrounding quotes.
func value(s string) []byte {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	}
	return []byte(s)
}

func parsePageID(s string) (page.PageID, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return page.InvalidPageID, fmt.Errorf("page id must be an integer: %v", err)
	}
	return page.PageID(n), nil
}

func parseRecordID(pageStr, slotStr string) (page.RecordID, error) {
	id, err := parsePageID(pageStr)
	if err != nil {
		return page.RecordID{}, err
	}
	slot, err := strconv.ParseInt(slotStr, 10, 32)
	if err != nil {
		return page.RecordID{}, fmt.Errorf("slot id must be an integer: %v", err)
	}
	return page.RecordID{PageID: id, SlotID: page.SlotID(slot)}, nil
}
