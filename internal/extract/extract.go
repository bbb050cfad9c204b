// Package extract implements C11: running an external packed-disc extractor
// over every Pack*.pkd under a disc's USRDIR, skipping or re-extracting
// partial prior outputs, then harvesting the extracted filesystem trees into
// the disc's canonical Export/ location.
//
// Grounded on the reader-goroutine/channel shape implied by the teacher's
// internal/scan/scanner.go (a worker goroutine draining into a channel while
// the caller's goroutine renders progress), re-keyed here to drain a single
// child process's combined stdout+stderr instead of a file-discovery
// channel. No teacher file runs an external extractor subprocess, so the
// exec.Command plumbing is new; the output-encoding fallback chain and
// partial-output detection are new per spec.md §4.9 (no teacher or pack
// analog exists for either).
package extract

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ncruces/go-strftime"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/AltEvolutions/spcdb/internal/progress"
	"github.com/AltEvolutions/spcdb/internal/xerrors"
)

// Stats accumulates counters describing one ExtractDiscPKDs run, surfaced to
// the caller for reporting/telemetry.
type Stats struct {
	PKDsFound        int
	PKDsExtracted    int
	PKDsSkipped      int
	PKDOutMovedAside int
	FilesHarvested   int
}

// maxLogLines bounds how many trailing log lines are kept for a failure
// message, per §4.9 ("last 40 log lines").
const maxLogLines = 40

// terminateGrace is how long a cooperative terminate is given before the
// child is force-killed, per §5 ("hard-terminated after ≤2s").
const terminateGrace = 2 * time.Second

// usrdirRel is the conventional location of packed archives under a disc
// root.
var usrdirRel = filepath.Join("PS3_GAME", "USRDIR")

// ExtractDiscPKDs enumerates Pack*.pkd under discRoot/PS3_GAME/USRDIR, runs
// extractorExe once per archive, and harvests the resulting filesystem trees
// into the disc's canonical Export/ location.
func ExtractDiscPKDs(extractorExe, discRoot string, sink progress.Sink, cancel *progress.CancelToken, allowMidDiscCancel bool, stats *Stats) error {
	if stats == nil {
		stats = &Stats{}
	}
	if extractorExe == "" {
		return xerrors.Extract("EXTRACTOR_NOT_CONFIGURED",
			"Pass an extractor executable path, or skip extraction for packed sources.",
			fmt.Errorf("no extractor executable configured"))
	}
	if cancel == nil {
		cancel = progress.NewCancelToken()
	}

	usrdir := filepath.Join(discRoot, usrdirRel)
	pkds, err := findPKDFiles(usrdir)
	if err != nil {
		return xerrors.Extract("PKD_ENUMERATE_FAILED", "Check that the disc root contains PS3_GAME/USRDIR.", err)
	}
	stats.PKDsFound = len(pkds)

	progress.Phase(sink, "extract", fmt.Sprintf("found %d packed archive(s)", len(pkds)))

	for i, pkd := range pkds {
		if err := cancel.RaiseIfCancelled(); err != nil {
			return err
		}
		progress.Progress(sink, "extract", int64(i), int64(len(pkds)))

		outDir := pkd + "_out"
		if complete, exists := pkdOutStatus(outDir); exists {
			if complete {
				stats.PKDsSkipped++
				progress.Log(sink, progress.LevelInfo, "extract", "skip %s: prior output looks complete", filepath.Base(pkd))
				continue
			}
			asideName := outDir + "_incomplete_" + strftime.Format("%Y%m%d-%H%M%S", time.Now())
			if _, err := os.Stat(asideName); err == nil {
				asideName += "-" + uuid.NewString()[:8]
			}
			if err := os.Rename(outDir, asideName); err != nil {
				return xerrors.Extract("PKD_OUT_MOVE_ASIDE_FAILED", "Check permissions on the disc root.", err)
			}
			stats.PKDOutMovedAside++
			progress.Log(sink, progress.LevelWarn, "extract", "moved incomplete prior output aside: %s", filepath.Base(asideName))
		}

		if err := runExtractor(extractorExe, pkd, outDir, sink, cancel, allowMidDiscCancel); err != nil {
			return err
		}
		stats.PKDsExtracted++
	}
	progress.Progress(sink, "extract", int64(len(pkds)), int64(len(pkds)))

	if err := cancel.RaiseIfCancelled(); err != nil {
		return err
	}

	harvested, err := harvest(discRoot, pkds, sink)
	stats.FilesHarvested = harvested
	return err
}

// findPKDFiles returns every Pack*.pkd under usrdir, case-insensitive.
func findPKDFiles(usrdir string) ([]string, error) {
	entries, err := os.ReadDir(usrdir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		if strings.HasPrefix(name, "pack") && strings.HasSuffix(name, ".pkd") {
			out = append(out, filepath.Join(usrdir, e.Name()))
		}
	}
	return out, nil
}

// pkdOutStatus reports whether outDir exists, and if so whether it looks
// like a complete extraction: non-empty, containing a filesystem/ (or
// FileSystem/) directory with an export/ (or Export/) child beneath it.
func pkdOutStatus(outDir string) (complete bool, exists bool) {
	info, err := os.Stat(outDir)
	if err != nil || !info.IsDir() {
		return false, false
	}
	entries, err := os.ReadDir(outDir)
	if err != nil || len(entries) == 0 {
		return false, true
	}
	fsDir := findCaseInsensitiveChild(outDir, "filesystem")
	if fsDir == "" {
		return false, true
	}
	exportDir := findCaseInsensitiveChild(fsDir, "export")
	return exportDir != "", true
}

func findCaseInsensitiveChild(dir, name string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() && strings.EqualFold(e.Name(), name) {
			return filepath.Join(dir, e.Name())
		}
	}
	return ""
}

// runExtractor runs extractorExe against one PKD, streaming its combined
// output through a reader goroutine into a line channel, honoring
// cancellation, and failing with the trailing log lines on non-zero exit.
func runExtractor(extractorExe, pkd, outDir string, sink progress.Sink, cancel *progress.CancelToken, allowMidDiscCancel bool) error {
	cmd := exec.Command(extractorExe, pkd, outDir)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return xerrors.Extract("EXTRACTOR_SPAWN_FAILED", "Check the extractor executable path.", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return xerrors.Extract("EXTRACTOR_SPAWN_FAILED", "Check the extractor executable path and permissions.", err)
	}

	lines := make(chan string, 256)
	var readerWG sync.WaitGroup
	readerWG.Add(1)
	go func() {
		defer readerWG.Done()
		defer close(lines)
		streamLines(stdout, lines)
	}()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var tail []string
	pushLine := func(l string) {
		progress.Log(sink, progress.LevelInfo, "extract", "%s", l)
		tail = append(tail, l)
		if len(tail) > maxLogLines {
			tail = tail[len(tail)-maxLogLines:]
		}
	}

	pollInterval := time.NewTicker(200 * time.Millisecond)
	defer pollInterval.Stop()

	for {
		select {
		case l, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			pushLine(l)
		case werr := <-done:
			readerWG.Wait()
			for l := range drainRemaining(lines) {
				pushLine(l)
			}
			if werr != nil {
				return xerrors.Extract("EXTRACTOR_FAILED",
					"Inspect the extractor log output below for the underlying cause.",
					fmt.Errorf("extractor exited with error for %s: %w\n%s", filepath.Base(pkd), werr, strings.Join(tail, "\n")))
			}
			return nil
		case <-pollInterval.C:
			if allowMidDiscCancel && cancel.Cancelled() {
				terminateChild(cmd)
				<-done
				return xerrors.Cancelled()
			}
		}
	}
}

func drainRemaining(lines <-chan string) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		if lines == nil {
			return
		}
		for l := range lines {
			out <- l
		}
	}()
	return out
}

// terminateChild sends a cooperative terminate signal, then force-kills if
// the process is still alive after terminateGrace.
func terminateChild(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(os.Interrupt)
	timer := time.NewTimer(terminateGrace)
	defer timer.Stop()
	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-timer.C:
		_ = cmd.Process.Kill()
	}
}

// streamLines reads r line-by-line, normalizing encoding and stripping ANSI
// and control characters, pushing results to out.
func streamLines(r io.Reader, out chan<- string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		decoded := decodeLine(raw)
		out <- stripANSIAndControl(decoded)
	}
}

// decodeLine tries, in order, the OEM codepage (treated here as CP850, the
// conventional DOS/OEM default for this tool's origin), then CP437, then
// CP1252, then assumes the bytes are already UTF-8. The first decoding that
// round-trips without a replacement rune wins.
func decodeLine(raw []byte) string {
	candidates := []*charmap.Charmap{charmap.CodePage850, charmap.CodePage437, charmap.Windows1252}
	for _, cm := range candidates {
		if s, ok := tryDecode(cm, raw); ok {
			return s
		}
	}
	return string(raw)
}

func tryDecode(cm *charmap.Charmap, raw []byte) (string, bool) {
	decoded, _, err := transform.Bytes(cm.NewDecoder(), raw)
	if err != nil {
		return "", false
	}
	if strings.ContainsRune(string(decoded), '�') {
		return "", false
	}
	return string(decoded), true
}

func stripANSIAndControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inEscape := false
	for _, r := range s {
		if inEscape {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEscape = false
			}
			continue
		}
		if r == 0x1b {
			inEscape = true
			continue
		}
		if r < 0x20 && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// harvest copies every <pkd>_out/filesystem/export/ tree into discRoot's
// canonical Export/ location, counting every file copied.
func harvest(discRoot string, pkds []string, sink progress.Sink) (int, error) {
	destRoot := filepath.Join(discRoot, usrdirRel, "FileSystem", "Export")
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return 0, xerrors.Extract("HARVEST_MKDIR_FAILED", "Check permissions on the disc root.", err)
	}

	total := 0
	for _, pkd := range pkds {
		outDir := pkd + "_out"
		fsDir := findCaseInsensitiveChild(outDir, "filesystem")
		if fsDir == "" {
			continue
		}
		exportDir := findCaseInsensitiveChild(fsDir, "export")
		if exportDir == "" {
			continue
		}
		n, err := copyTreeCounting(exportDir, destRoot)
		if err != nil {
			return total, xerrors.Extract("HARVEST_COPY_FAILED", "Check disk space and permissions.", err)
		}
		total += n
	}

	if _, err := os.Stat(filepath.Join(destRoot, "config.xml")); err != nil {
		progress.Log(sink, progress.LevelWarn, "extract", "harvested Export/ has no config.xml at %s", destRoot)
	}
	progress.Phase(sink, "extract", fmt.Sprintf("harvested %d file(s) into %s", total, destRoot))
	return total, nil
}

// copyTreeCounting copies src into dst recursively, returning the number of
// regular files copied regardless of whether an equally-sized destination
// already existed (per §4.9, harvested count is unconditional).
func copyTreeCounting(src, dst string) (int, error) {
	count := 0
	err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if err := copyFile(path, target); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if info, err := os.Stat(src); err == nil {
		_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	}
	return nil
}
