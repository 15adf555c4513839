package process_blob

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"scripthook/process"
	"scripthook/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

const (
	metadataFile  = "metadata.json"
	memoryMapFile = "process_memory_map.json"

	// DefaultMaxRegion bounds the size of a single saved region.
	DefaultMaxRegion = 100 * 1024 * 1024
)

type metadata struct {
	PID  process.ProcessID `json:"pid"`
	Name string            `json:"name"`
}

func blobFilename(dirname string, region memory_map.MemoryMapItem) string {
	return filepath.Join(dirname, fmt.Sprintf("blob_0x%x_%d.bin", region.Address, region.Size))
}

// SaveDump writes every readable region of mem below maxRegion bytes into
// dirname, together with the memory map and process metadata. Regions that
// fail to read are skipped.
func SaveDump(mem process.Memory, pid process.ProcessID, name, dirname string, maxRegion uint) error {
	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "dump"))

	if err := os.MkdirAll(dirname, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	metadataJSON, err := json.MarshalIndent(metadata{PID: pid, Name: name}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dirname, metadataFile), metadataJSON, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	mm, err := mem.GetMemoryMap()
	if err != nil {
		return fmt.Errorf("failed to get memory map: %w", err)
	}

	memoryMapJSON, err := json.MarshalIndent(mm, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal memory map: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dirname, memoryMapFile), memoryMapJSON, 0644); err != nil {
		return fmt.Errorf("failed to write memory map file: %w", err)
	}

	saved, skipped, failed := 0, 0, 0
	for _, region := range mm {
		if !region.IsReadable() || region.Size > maxRegion {
			skipped++
			continue
		}

		data, err := mem.ReadMemory(process.Address(region.Address), process.Size(region.Size))
		if err != nil {
			log.Debugln("Failed to read memory region at", fmt.Sprintf("%x", region.Address), err)
			failed++
			continue
		}

		if err := os.WriteFile(blobFilename(dirname, region), data, 0644); err != nil {
			return fmt.Errorf("failed to write region 0x%x: %w", region.Address, err)
		}
		saved++
	}

	log.Infoln("Dump saved to", dirname, ":", saved, "regions saved,", skipped, "skipped,", failed, "unreadable")
	return nil
}

// Save writes the image as a dump directory.
func (p *Image) Save(dirname string) error {
	return SaveDump(p, p.PID, p.Name, dirname, DefaultMaxRegion)
}

// LoadImage reads a dump directory written by SaveDump. Regions whose blob
// was not saved stay in the memory map but read as unmapped.
func LoadImage(dirname string) (*Image, error) {
	metadataBytes, err := os.ReadFile(filepath.Join(dirname, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var md metadata
	if err := json.Unmarshal(metadataBytes, &md); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	mmBytes, err := os.ReadFile(filepath.Join(dirname, memoryMapFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read memory map: %w", err)
	}

	var mm []memory_map.MemoryMapItem
	if err := json.Unmarshal(mmBytes, &mm); err != nil {
		return nil, fmt.Errorf("failed to unmarshal memory map: %w", err)
	}

	img := NewImage()
	img.PID = md.PID
	img.Name = md.Name

	for _, region := range mm {
		data, err := os.ReadFile(blobFilename(dirname, region))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read blob for region 0x%x: %w", region.Address, err)
		}
		if err := img.Map(process.Address(region.Address), data, region.Perms, region.Path); err != nil {
			return nil, err
		}
	}

	return img, nil
}
