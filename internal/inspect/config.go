// Package inspect implements C4 (disc inspector) and the report half of C9
// (preflight validator): parsing config.xml, choosing the best bank, and
// producing a per-disc severity-rolled-up report of ReportItems.
package inspect

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/AltEvolutions/spcdb/internal/xmlstream"
)

// Config is the parsed content of a disc's config.xml.
type Config struct {
	ProductCode string
	ProductDesc string
	Banks       []int
}

// ParseConfig parses export_root/config.xml, extracting PRODUCT_CODE,
// PRODUCT_DESC, and the set of VERSION@version attributes (banks).
func ParseConfig(exportRoot string) (*Config, error) {
	path := filepath.Join(exportRoot, "config.xml")
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := xmlstream.NewReader(f)
	root, err := r.Next("CONFIG", "DISC", "PRODUCT")
	if err != nil {
		// Some donor config.xml files have no single wrapping root element
		// recognized above; fall back to scanning the whole document for
		// VERSION children directly.
		f.Seek(0, 0)
		return parseConfigFallback(f)
	}

	cfg := &Config{}
	if v, ok := root.Text("PRODUCT_CODE"); ok {
		cfg.ProductCode = v
	}
	if v, ok := root.Text("PRODUCT_DESC"); ok {
		cfg.ProductDesc = v
	}
	for _, ver := range root.ChildrenNamed("VERSION") {
		if v, ok := ver.Attr("version"); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				cfg.Banks = append(cfg.Banks, n)
			}
		}
	}
	sort.Ints(cfg.Banks)
	return cfg, nil
}

func parseConfigFallback(f *os.File) (*Config, error) {
	r := xmlstream.NewReader(f)
	cfg := &Config{}
	err := r.ForEach([]string{"VERSION"}, func(el xmlstream.Element) error {
		if v, ok := el.Attr("version"); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				cfg.Banks = append(cfg.Banks, n)
			}
		}
		return nil
	})
	sort.Ints(cfg.Banks)
	return cfg, err
}

// BestBank returns the highest bank v for which both songs_v_0.xml and
// acts_v_0.xml exist under exportRoot, and their paths.
func BestBank(exportRoot string, banks []int) (bank int, songsXML, actsXML string, ok bool) {
	candidates := append([]int(nil), banks...)
	sort.Sort(sort.Reverse(sort.IntSlice(candidates)))
	for _, v := range candidates {
		songs := findBankFile(exportRoot, "songs", v)
		acts := findBankFile(exportRoot, "acts", v)
		if songs != "" && acts != "" {
			return v, songs, acts, true
		}
	}
	return 0, "", "", false
}

func findBankFile(exportRoot string, prefix string, bank int) string {
	want := fmt.Sprintf("%s_%d_0.xml", strings.ToLower(prefix), bank)
	entries, err := os.ReadDir(exportRoot)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(e.Name(), want) {
			return filepath.Join(exportRoot, e.Name())
		}
	}
	return ""
}
