package rig

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/lumenrig/lumenrig/internal/device"
	"github.com/lumenrig/lumenrig/internal/errs"
)

// LibraryVersion is this build's show-document version, compared
// major.minor against a loaded document's `version` field.
const LibraryVersion = "1.0"

// showDoc is the subset of the show-document root Rig owns:
// version, refresh rate, devices, and named transport patches. Playback
// owns and parses the remaining sections (timelines, layers, groups,
// dynamic_groups, programmer) from the same bytes.
type showDoc struct {
	Version     string                     `json:"version"`
	RefreshRate float64                    `json:"refreshRate"`
	Devices     map[string]json.RawMessage `json:"devices"`
	Patches     map[string]json.RawMessage `json:"patches"`
}

// Fingerprint returns a blake2b-256 hash of data, used to detect
// out-of-band show-document corruption independent of the version-field
// check.
func Fingerprint(data []byte) (string, error) {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Load parses a show document and constructs a Rig: devices first (in
// ascending id order, standing in for "declaration order" since JSON
// object keys carry none), then transports, in that order. A version
// mismatch is an ErrVersionSkew logged at WARN; load proceeds
// best-effort.
func Load(data []byte, log *logrus.Entry) (*Rig, error) {
	var doc showDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("rig: parse show document: %w", err)
	}
	if doc.Version == "" {
		return nil, fmt.Errorf("rig: %w: missing version field", errs.ErrValidation)
	}
	if err := checkVersionSkew(doc.Version, log); err != nil {
		log.WithError(err).Warn("rig: show document version skew")
	}
	if doc.RefreshRate <= 0 {
		doc.RefreshRate = 40
	}

	r := New(doc.RefreshRate, log)

	deviceIDs := make([]string, 0, len(doc.Devices))
	for id := range doc.Devices {
		deviceIDs = append(deviceIDs, id)
	}
	sort.Strings(deviceIDs)
	for _, id := range deviceIDs {
		d, err := device.UnmarshalDevice(id, doc.Devices[id])
		if err != nil {
			return nil, fmt.Errorf("rig: load device %s: %w", id, err)
		}
		if err := r.AddDevice(d); err != nil {
			return nil, err
		}
	}

	patchNames := make([]string, 0, len(doc.Patches))
	for name := range doc.Patches {
		patchNames = append(patchNames, name)
	}
	sort.Strings(patchNames)
	for _, name := range patchNames {
		t, err := DecodeTransport(doc.Patches[name], log)
		if err != nil {
			return nil, fmt.Errorf("rig: load transport %s: %w", name, err)
		}
		if err := r.AddTransport(name, t); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// checkVersionSkew compares major.minor of docVersion against
// LibraryVersion.
func checkVersionSkew(docVersion string, log *logrus.Entry) error {
	if docVersion == LibraryVersion {
		return nil
	}
	docMajor, docMinor, err := parseVersion(docVersion)
	if err != nil {
		return fmt.Errorf("rig: %w: %v", errs.ErrValidation, err)
	}
	libMajor, libMinor, _ := parseVersion(LibraryVersion)
	if docMajor != libMajor || docMinor != libMinor {
		return fmt.Errorf("rig: document version %s, library version %s: %w", docVersion, LibraryVersion, errs.ErrVersionSkew)
	}
	return nil
}

func parseVersion(v string) (major, minor int, err error) {
	parts := strings.SplitN(v, ".", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed version %q", v)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return major, minor, nil
}

// Save serializes the rig's devices and transports into a partial show
// document. Callers combine this with Playback's MarshalJSON output to
// produce the full root object.
func Save(r *Rig) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make(map[string]json.RawMessage, len(r.byID))
	for id, d := range r.byID {
		raw, err := d.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("rig: save device %s: %w", id, err)
		}
		devices[id] = raw
	}

	patches := make(map[string]json.RawMessage, len(r.transports))
	for name, t := range r.transports {
		raw, err := t.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("rig: save transport %s: %w", name, err)
		}
		patches[name] = raw
	}

	return json.Marshal(showDoc{
		Version:     LibraryVersion,
		RefreshRate: r.refreshHz,
		Devices:     devices,
		Patches:     patches,
	})
}
