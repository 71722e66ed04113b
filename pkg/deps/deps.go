// Package deps downloads and unpacks the prebuilt SDL2 libraries and headers the overlay is compiled
// against. The list of archives lives in DEPS.yml; DEPS.stamps remembers what has been extracted.
package deps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"gopkg.in/yaml.v3"

	"github.com/416inputs/buildtool/pkg"
)

// Spec describes a single archive
type Spec struct {
	Condition  string `yaml:"if,omitempty"`
	Rejections string `yaml:"ifNot,omitempty"`
	URL        string
	Dest       string
	Sha256     string
	Strip      int
	// Only restricts the extraction to a directory inside the archive, i.e. x86_64-w64-mingw32.
	Only       string   `yaml:"only,omitempty"`
	MarkExec   []string `yaml:"markExec,omitempty"`
	// Overlay extracts on top of an existing destination instead of replacing it.
	Overlay bool `yaml:"overlay,omitempty"`
}

// Config is the content of DEPS.yml
type Config struct {
	Vars map[string]string
	Deps map[string]Spec
}

var varMatcher = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// LoadConfig parses the given DEPS.yml and returns the decoded config and the raw content
func LoadConfig(cfgPath string) (Config, string, error) {
	var cfg Config
	cfgData, err := ioutil.ReadFile(cfgPath)
	if err != nil {
		return cfg, "", eris.Wrapf(err, "Could not open file %s.", cfgPath)
	}

	err = yaml.Unmarshal(cfgData, &cfg)
	if err != nil {
		return cfg, "", eris.Wrapf(err, "Failed to parse %s.", cfgPath)
	}

	if cfg.Vars == nil {
		cfg.Vars = map[string]string{}
	}

	return cfg, string(cfgData), nil
}

// LoadStamps reads the stamp file. A missing file results in an empty map.
func LoadStamps(stampPath string) (map[string]string, error) {
	stamps := map[string]string{}
	stampData, err := ioutil.ReadFile(stampPath)
	if err != nil {
		if !eris.Is(err, os.ErrNotExist) {
			return nil, eris.Wrapf(err, "Failed to read stamps file %s.", stampPath)
		}
		return stamps, nil
	}

	err = json.Unmarshal(stampData, &stamps)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to parse JSON file %s.", stampPath)
	}

	return stamps, nil
}

// SaveStamps writes the stamp file
func SaveStamps(stampPath string, stamps map[string]string) error {
	stampData, err := json.Marshal(stamps)
	if err != nil {
		return eris.Wrap(err, "Failed to encode stamps")
	}

	err = ioutil.WriteFile(stampPath, stampData, os.FileMode(0660))
	if err != nil {
		return eris.Wrapf(err, "Failed to write %s", stampPath)
	}

	return nil
}

// HostVars returns the default condition variables for the current platform
func HostVars() map[string]string {
	vars := map[string]string{
		runtime.GOARCH: "true",
		runtime.GOOS:   "true",
	}
	if os.Getenv("CI") == "true" {
		vars["ci"] = "true"
	}

	return vars
}

// Evaluate substitutes {VAR} placeholders in URL and Only and reports whether the spec applies to
// vars. Every variable listed in Condition has to be set and none listed in Rejections may be.
func (s *Spec) Evaluate(vars map[string]string) bool {
	replace := func(varName string) string {
		return vars[varName[1:len(varName)-1]]
	}
	s.URL = varMatcher.ReplaceAllStringFunc(s.URL, replace)
	s.Only = varMatcher.ReplaceAllStringFunc(s.Only, replace)

	for _, condition := range strings.Split(s.Condition, ",") {
		condition = strings.TrimSpace(condition)
		if condition == "" {
			continue
		}

		if vars[condition] == "" {
			return false
		}
	}

	for _, condition := range strings.Split(s.Rejections, ",") {
		condition = strings.TrimSpace(condition)
		if condition == "" {
			continue
		}

		if vars[condition] != "" {
			return false
		}
	}

	return true
}

// StampToken identifies the downloaded content of a spec
func (s Spec) StampToken() string {
	return s.URL + "#" + s.Sha256
}

// Fetcher downloads and extracts archives into Root
type Fetcher struct {
	Root   string
	Client *http.Client
	// Update replaces mismatching checksums instead of failing and downloads skipped archives to
	// compute their checksums.
	Update bool
	// Progress creates progress bars; defaults to DefaultProgress.
	Progress func(length int64, desc string) *progressbar.ProgressBar
}

// DefaultProgress renders byte progress bars on the console unless running on CI
func DefaultProgress(length int64, desc string) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

// SilentProgress returns hidden progress bars
func SilentProgress(length int64, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false), progressbar.OptionSetWriter(ioutil.Discard))
}

// Fetch processes every dependency of cfg in name order. stamps is updated in place for each
// extracted archive. The returned map contains the new checksums found in update mode.
func (f *Fetcher) Fetch(ctx context.Context, cfg Config, stamps map[string]string) (map[string]string, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{
			Timeout: time.Minute * 30,
		}
	}
	progress := f.Progress
	if progress == nil {
		progress = DefaultProgress
	}

	vars := HostVars()
	for k, v := range cfg.Vars {
		vars[k] = v
	}

	names := make([]string, 0, len(cfg.Deps))
	for name := range cfg.Deps {
		names = append(names, name)
	}
	sort.Strings(names)

	changes := map[string]string{}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return changes, err
		}

		err := f.fetchOne(ctx, client, progress, name, cfg.Deps[name], vars, stamps, changes)
		if err != nil {
			return changes, err
		}
	}

	return changes, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, client *http.Client, progress func(int64, string) *progressbar.ProgressBar,
	name string, meta Spec, vars, stamps, changes map[string]string) error {
	// We eval the conditions even if we're updating because we have to evaluate the variable placeholders.
	skip := !meta.Evaluate(vars)
	if skip && !f.Update {
		return nil
	}

	destPath := filepath.Join(f.Root, meta.Dest)
	destInfo, err := os.Stat(destPath)
	destExists := err == nil

	stamp, ok := stamps[name]
	if ok && meta.StampToken() == stamp && destExists {
		return nil
	}

	pkg.PrintSubtask(name + ":  " + meta.URL)
	if meta.Sha256 == "" && !f.Update {
		return eris.Errorf("Dependency %s doesn't have a checksum", name)
	}

	digest, archive, err := f.download(ctx, client, progress, meta.URL)
	if archive != "" {
		defer os.Remove(archive)
	}
	if err != nil {
		return err
	}

	if digest != meta.Sha256 {
		if !f.Update {
			return eris.Errorf("Checksum check failed for %s: expected %s but got %s", name, meta.Sha256, digest)
		}

		pkg.PrintSubtask("Updating checksum")
		changes[name] = digest
		meta.Sha256 = digest
	}

	if skip {
		return nil
	}

	if destExists && !meta.Overlay {
		pkg.PrintSubtask(fmt.Sprintf("Remove %s", destPath))
		if destInfo.IsDir() {
			err = os.RemoveAll(destPath)
		} else {
			err = os.Remove(destPath)
		}
		if err != nil {
			return eris.Wrapf(err, "Failed to remove %s", destPath)
		}
	}

	err = Extract(archive, meta.URL, destPath, meta.Strip, meta.Only, progress)
	if err != nil {
		return eris.Wrapf(err, "Failed to extract %s", name)
	}

	if runtime.GOOS != "windows" {
		// .zip files don't carry permissions which means we have to manually fix permissions for binaries in .zip files
		for _, binPath := range meta.MarkExec {
			binPath = filepath.Join(destPath, binPath)
			fi, err := os.Stat(binPath)
			if err != nil {
				return eris.Wrapf(err, "Failed to read permissions for %s", binPath)
			}

			err = os.Chmod(binPath, fi.Mode()|0700)
			if err != nil {
				return eris.Wrapf(err, "Failed to mark %s as executable", binPath)
			}
		}
	}

	stamps[name] = meta.StampToken()
	return nil
}

func (f *Fetcher) download(ctx context.Context, client *http.Client, progress func(int64, string) *progressbar.ProgressBar, url string) (string, string, error) {
	arHandle, err := ioutil.TempFile(f.Root, "deps_dl.*.tmp")
	if err != nil {
		return "", "", eris.Wrap(err, "Failed to create temporary download file")
	}
	defer arHandle.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", arHandle.Name(), eris.Wrapf(err, "Invalid URL %s", url)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", arHandle.Name(), eris.Wrapf(err, "Failed to start download for %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", arHandle.Name(), eris.Errorf("Download of %s failed with status %s", url, resp.Status)
	}

	hash := sha256.New()
	bar := progress(resp.ContentLength, "     download")
	_, err = io.Copy(io.MultiWriter(hash, arHandle, bar), resp.Body)
	if err != nil {
		return "", arHandle.Name(), eris.Wrapf(err, "Failed during download of %s", url)
	}
	bar.Finish()

	return hex.EncodeToString(hash.Sum(nil)), arHandle.Name(), nil
}

// UpdateChecksums rewrites the sha256 values of the named sections in the raw DEPS.yml content while
// keeping the rest of the file untouched
func UpdateChecksums(cfgData string, cfg Config, changes map[string]string) (string, error) {
	generated := cfgData
	names := make([]string, 0, len(changes))
	for name := range changes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		newChecksum := changes[name]
		section := regexp.MustCompile(`(?m)^[ \t]+` + regexp.QuoteMeta(name) + `:[ \t]*(\r?\n)`)
		offset := depsOffset(generated)
		match := section.FindStringSubmatchIndex(generated[offset:])
		if match == nil {
			return "", eris.Errorf("Failed to find the section for %s!", name)
		}
		pos := offset + match[0]
		start := offset + match[1]
		lineEnd := generated[offset+match[2] : offset+match[3]]

		oldChecksum := cfg.Deps[name].Sha256
		if oldChecksum == "" {
			indent := sectionIndent(generated[start:])
			generated = generated[:start] + indent + "sha256: " + newChecksum + lineEnd + generated[start:]
			continue
		}

		subPos := strings.Index(generated[pos:], "sha256: "+oldChecksum)
		if subPos == -1 {
			return "", eris.Errorf("Couldn't find checksum section for %s.", name)
		}

		start = pos + subPos + len("sha256: ")
		end := start + len(oldChecksum)
		generated = generated[:start] + newChecksum + generated[end:]
	}

	return generated, nil
}

var depsSection = regexp.MustCompile(`(?m)^deps:[ \t]*\r?$`)

// depsOffset returns the position of the deps mapping so that vars can't shadow a section
func depsOffset(cfgData string) int {
	loc := depsSection.FindStringIndex(cfgData)
	if loc == nil {
		return 0
	}

	return loc[1]
}

// sectionIndent returns the indentation of the first line of a YAML section body
func sectionIndent(body string) string {
	trimmed := strings.TrimLeft(body, " \t")
	indent := body[:len(body)-len(trimmed)]
	if indent == "" {
		return "    "
	}

	return indent
}
