package seeds

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
	"github.com/crzyc98/planwise-navigator-sub000/internal/logging"
)

// Seed CSV filenames. The simulator discovers them by name.
const (
	FileHazardBase        = "config_promotion_hazard_base.csv"
	FileAgeMultipliers    = "config_promotion_hazard_age_multipliers.csv"
	FileTenureMultipliers = "config_promotion_hazard_tenure_multipliers.csv"
	FileAgeBands          = "config_age_bands.csv"
	FileTenureBands       = "config_tenure_bands.csv"
)

// WriteScenarioSeeds derives seed CSVs from an effective config and writes
// them to dir. Only sections present in the config produce files. Every
// write is temp-then-rename so the simulator never reads a partial CSV.
// Returns the filenames written.
func WriteScenarioSeeds(dir string, cfg map[string]interface{}) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, faults.Wrap(faults.IO, err, "failed to create seeds directory")
	}

	var written []string

	if hazard, ok := HazardFromConfig(cfg); ok {
		if err := writeCSVAtomic(filepath.Join(dir, FileHazardBase),
			[]string{"base_rate", "level_dampener_factor"},
			[][]string{{formatFloat(hazard.BaseRate), formatFloat(hazard.LevelDampener)}},
		); err != nil {
			return written, err
		}
		written = append(written, FileHazardBase)

		if err := writeCSVAtomic(filepath.Join(dir, FileAgeMultipliers),
			[]string{"age_band", "multiplier"},
			multiplierRows(hazard.AgeMultipliers),
		); err != nil {
			return written, err
		}
		written = append(written, FileAgeMultipliers)

		if err := writeCSVAtomic(filepath.Join(dir, FileTenureMultipliers),
			[]string{"tenure_band", "multiplier"},
			multiplierRows(hazard.TenureMultipliers),
		); err != nil {
			return written, err
		}
		written = append(written, FileTenureMultipliers)
	}

	if bands, ok := BandsFromConfig(cfg, "age_bands"); ok {
		if err := writeCSVAtomic(filepath.Join(dir, FileAgeBands), bandHeader(), bandRows(bands)); err != nil {
			return written, err
		}
		written = append(written, FileAgeBands)
	}
	if bands, ok := BandsFromConfig(cfg, "tenure_bands"); ok {
		if err := writeCSVAtomic(filepath.Join(dir, FileTenureBands), bandHeader(), bandRows(bands)); err != nil {
			return written, err
		}
		written = append(written, FileTenureBands)
	}

	logging.Seeds("wrote %d seed file(s) to %s", len(written), dir)
	return written, nil
}

// MirrorSeeds copies the named seed files from srcDir into dstDir, also
// atomically. The simulator reads the global directory, so a mirror that
// fails midway must not leave torn files behind.
func MirrorSeeds(srcDir, dstDir string, files []string) error {
	if dstDir == "" || len(files) == 0 {
		return nil
	}
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return faults.Wrap(faults.IO, err, "failed to create global seeds directory")
	}
	for _, name := range files {
		if err := copyFileAtomic(filepath.Join(srcDir, name), filepath.Join(dstDir, name)); err != nil {
			return err
		}
	}
	logging.SeedsDebug("mirrored %d seed file(s) to %s", len(files), dstDir)
	return nil
}

func bandHeader() []string {
	return []string{"band_id", "band_label", "min_value", "max_value", "display_order"}
}

func bandRows(bands []Band) [][]string {
	rows := make([][]string, 0, len(bands))
	for _, b := range bands {
		rows = append(rows, []string{
			b.BandID,
			b.Label(),
			formatFloat(b.MinValue),
			formatFloat(b.MaxValue),
			strconv.Itoa(b.DisplayOrder),
		})
	}
	return rows
}

func multiplierRows(ms []Multiplier) [][]string {
	rows := make([][]string, 0, len(ms))
	for _, m := range ms {
		rows = append(rows, []string{m.Band, formatFloat(m.Value)})
	}
	return rows
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func writeCSVAtomic(path string, header []string, rows [][]string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return faults.Wrap(faults.IO, err, "failed to create %s", filepath.Base(path))
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		os.Remove(tmp)
		return faults.Wrap(faults.IO, err, "failed to write %s", filepath.Base(path))
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			f.Close()
			os.Remove(tmp)
			return faults.Wrap(faults.IO, err, "failed to write %s", filepath.Base(path))
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return faults.Wrap(faults.IO, err, "failed to flush %s", filepath.Base(path))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return faults.Wrap(faults.IO, err, "failed to close %s", filepath.Base(path))
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return faults.Wrap(faults.IO, err, "failed to replace %s", filepath.Base(path))
	}
	return nil
}

func copyFileAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return faults.Wrap(faults.IO, err, "failed to open %s", src)
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return faults.Wrap(faults.IO, err, "failed to create %s", tmp)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return faults.Wrap(faults.IO, err, "failed to copy %s", filepath.Base(src))
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return faults.Wrap(faults.IO, err, "failed to close %s", tmp)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return faults.Wrap(faults.IO, err, "failed to replace %s", dst)
	}
	return nil
}
