package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	spaceRe  = regexp.MustCompile(`\s+`)
	numSeqRe = regexp.MustCompile(`(?:^|[\s-])(\d+)$|(\d+)$`)
	hallRe   = regexp.MustCompile(`^[A-Z0-9]*$`)
)

// ResourceNumber is a booth number or session code split into hall and sequence.
type ResourceNumber struct {
	Hall string
	Seq  int
}

// String renders the canonical form, e.g. "H2-014" or "007".
func (n ResourceNumber) String() string {
	if n.Hall == "" {
		return fmt.Sprintf("%03d", n.Seq)
	}
	return fmt.Sprintf("%s-%03d", n.Hall, n.Seq)
}

// ParseResourceNumber normalises organizer input such as "h2 14", "H2#014" or
// "B-7" so that the same slot always maps to the same unique key.
func ParseResourceNumber(raw string) (ResourceNumber, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer("#", " ", "_", " ", "/", " ").Replace(s)
	s = strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
	if s == "" {
		return ResourceNumber{}, fmt.Errorf("empty resource number")
	}

	loc := numSeqRe.FindStringSubmatchIndex(s)
	if loc == nil {
		return ResourceNumber{}, fmt.Errorf("no sequence number in %q", raw)
	}
	start, end := loc[2], loc[3]
	if start < 0 {
		start, end = loc[4], loc[5]
	}
	seq, err := strconv.Atoi(s[start:end])
	if err != nil || seq <= 0 {
		return ResourceNumber{}, fmt.Errorf("invalid sequence number in %q", raw)
	}

	hall := strings.TrimRight(s[:start], " -")
	hall = strings.ReplaceAll(hall, " ", "")
	if !hallRe.MatchString(hall) {
		return ResourceNumber{}, fmt.Errorf("invalid hall %q in %q", hall, raw)
	}
	return ResourceNumber{Hall: hall, Seq: seq}, nil
}
