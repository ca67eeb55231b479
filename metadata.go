package auth

import "strings"

// MergeMetadata folds unclaimed into claimed without mutating either map.
// Keys present on both keep the claimed value. The unclaimed marker is never
// copied over.
func MergeMetadata(claimed, unclaimed Metadata) Metadata {
	out := claimed.Clone()
	for key, entry := range unclaimed {
		if key == MetadataUnclaimedKey {
			continue
		}
		if _, exists := out[key]; exists {
			continue
		}
		out[key] = entry
	}
	return out
}

// MergeNotes joins claimed then unclaimed notes with a newline, skipping
// empty sides.
func MergeNotes(claimed, unclaimed string) string {
	parts := make([]string, 0, 2)
	if strings.TrimSpace(claimed) != "" {
		parts = append(parts, claimed)
	}
	if strings.TrimSpace(unclaimed) != "" {
		parts = append(parts, unclaimed)
	}
	return strings.Join(parts, "\n")
}

// neutralizedMetadata is what an unclaimed identity keeps after a merge.
func neutralizedMetadata(unclaimed Metadata) Metadata {
	out := Metadata{}
	if entry, ok := unclaimed[MetadataUnclaimedKey]; ok {
		out[MetadataUnclaimedKey] = entry
	}
	return out
}
