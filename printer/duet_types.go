package printer

import (
	"errors"
	"path"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// FileInfo is the metadata of the file a Duet is printing, as reported by
// rr_fileinfo. Err is -1 until the first successful fetch.
type FileInfo struct {
	Err int

	Name         string
	Size         uint32
	GeneratedBy  string
	LastModified string

	Height    float64 // overall model height (mm)
	PrintTime uint32  // slicer estimate for the whole job (seconds)
	Filament  uint32  // total filament over all extruders (mm)

	FirstLayerHeight float64
	LayerHeight      float64
}

const fileInfoUnset = -1

func newFileInfo() FileInfo {
	return FileInfo{Err: fileInfoUnset}
}

// Fetched reports whether rr_fileinfo has answered, with or without a
// loaded file.
func (fi *FileInfo) Fetched() bool {
	return fi.Err != fileInfoUnset
}

// Valid reports whether the snapshot describes a loaded file.
func (fi *FileInfo) Valid() bool {
	return fi.Err == 0
}

func (fi *FileInfo) DumpToLog(logger hclog.Logger) {
	if fi.Err != 0 {
		logger.Trace("file info not set", "err", fi.Err)
		return
	}
	logger.Trace("file info",
		"name", fi.Name,
		"size", fi.Size,
		"generated_by", fi.GeneratedBy,
		"modified", fi.LastModified,
		"height_mm", fi.Height,
		"print_time_s", fi.PrintTime,
		"filament_mm", fi.Filament,
		"first_layer_height", fi.FirstLayerHeight,
		"layer_height", fi.LayerHeight,
	)
}

// RRState is the live run state reported by rr_status?type=3.
// An empty Status means no successful fetch yet.
type RRState struct {
	Status string

	Tool Temps
	Bed  Temps

	PrintDuration  float64 // includes warm-up
	WarmupDuration float64

	// Remaining time estimates, by file position, filament use and layer.
	Remaining [3]float64
}

const (
	remainingFile = iota
	remainingFilament
	remainingLayer
)

func (rr *RRState) DumpToLog(logger hclog.Logger) {
	if rr.Status == "" {
		logger.Trace("run state not set")
		return
	}
	logger.Trace("run state",
		"status", rr.Status,
		"tool_actual", rr.Tool.Actual,
		"tool_target", rr.Tool.Target,
		"bed_actual", rr.Bed.Actual,
		"bed_target", rr.Bed.Target,
		"print_duration_s", rr.PrintDuration,
		"warmup_duration_s", rr.WarmupDuration,
		"remaining_file_s", rr.Remaining[remainingFile],
		"remaining_filament_s", rr.Remaining[remainingFilament],
		"remaining_layer_s", rr.Remaining[remainingLayer],
	)
}

// stateFromStatusCode maps a RepRapFirmware status letter to a State.
func stateFromStatusCode(code string) State {
	switch code {
	case "D", // decelerating, pausing a running print
		"S", // stopped, live print has been paused
		"R", // resuming a paused print
		"P", // printing a file
		"M": // simulating
		return Printing
	case "C", // processing config file
		"I", // idle
		"B", // busy, running a macro or live movement
		"H", // halted after emergency stop
		"F", // flashing firmware
		"T": // changing tool
		return Operational
	}
	return Offline
}

// Wire formats.

type rrStatusResponse struct {
	Status *string `json:"status"`
	Temps  struct {
		Bed struct {
			Current float64 `json:"current"`
			Active  float64 `json:"active"`
		} `json:"bed"`
		Current []float64 `json:"current"`
		Tools   struct {
			Active [][]float64 `json:"active"`
		} `json:"tools"`
	} `json:"temps"`
	PrintDuration  float64 `json:"printDuration"`
	WarmUpDuration float64 `json:"warmUpDuration"`
	TimesLeft      struct {
		File     float64 `json:"file"`
		Filament float64 `json:"filament"`
		Layer    float64 `json:"layer"`
	} `json:"timesLeft"`
}

var errMissingStatus = errors.New("rr_status: response has no status field")

func (r *rrStatusResponse) toRRState() (RRState, error) {
	if r.Status == nil || *r.Status == "" {
		return RRState{}, errMissingStatus
	}

	rr := RRState{
		Status:         *r.Status,
		PrintDuration:  r.PrintDuration,
		WarmupDuration: r.WarmUpDuration,
	}
	rr.Bed = Temps{Actual: r.Temps.Bed.Current, Target: r.Temps.Bed.Active}
	// Heater 0 is the bed; the first tool heater follows it.
	if len(r.Temps.Current) > 1 {
		rr.Tool.Actual = r.Temps.Current[1]
	}
	if len(r.Temps.Tools.Active) > 0 && len(r.Temps.Tools.Active[0]) > 0 {
		rr.Tool.Target = r.Temps.Tools.Active[0][0]
	}
	rr.Remaining[remainingFile] = r.TimesLeft.File
	rr.Remaining[remainingFilament] = r.TimesLeft.Filament
	rr.Remaining[remainingLayer] = r.TimesLeft.Layer
	return rr, nil
}

type rrFileInfoResponse struct {
	Err              *int      `json:"err"`
	Size             uint32    `json:"size"`
	LastModified     string    `json:"lastModified"`
	Height           float64   `json:"height"`
	FirstLayerHeight float64   `json:"firstLayerHeight"`
	LayerHeight      float64   `json:"layerHeight"`
	PrintTime        float64   `json:"printTime"`
	Filament         []float64 `json:"filament"`
	FileName         string    `json:"fileName"`
	GeneratedBy      string    `json:"generatedBy"`
}

var errMissingErr = errors.New("rr_fileinfo: response has no err field")

func (r *rrFileInfoResponse) toFileInfo() (FileInfo, error) {
	if r.Err == nil {
		return FileInfo{}, errMissingErr
	}
	fi := FileInfo{Err: *r.Err}
	if fi.Err != 0 {
		// No file loaded; the rest of the response is empty.
		return fi, nil
	}

	fi.Name = baseName(r.FileName)
	fi.Size = r.Size
	fi.GeneratedBy = r.GeneratedBy
	fi.LastModified = r.LastModified
	fi.Height = r.Height
	fi.PrintTime = toUint32(r.PrintTime)
	fi.FirstLayerHeight = r.FirstLayerHeight
	fi.LayerHeight = r.LayerHeight

	var total float64
	for _, f := range r.Filament {
		total += f
	}
	fi.Filament = toUint32(total)
	return fi, nil
}

// baseName strips the volume and directory from a Duet path such as
// "0:/gcodes/part.gcode".
func baseName(p string) string {
	if i := strings.Index(p, ":"); i >= 0 {
		p = p[i+1:]
	}
	if p == "" {
		return ""
	}
	return path.Base(p)
}
