package image

import (
	"fmt"
	"strings"

	"mediagen/internal/domain"
)

// DefaultNegativePrompt lists artefacts the model should avoid.
const DefaultNegativePrompt = "low quality, blurry, distorted, extra limbs, incorrect anatomy, text, watermark, minor, child"

// nsfwTiers maps the nsfw_level scale to the rating instruction sent upstream.
var nsfwTiers = []struct {
	max   int
	label string
}{
	{0, "fully clothed, safe for work"},
	{30, "casual, tasteful"},
	{60, "suggestive, lingerie allowed"},
	{85, "sensual, artistic nudity allowed"},
	{domain.MaxNSFWLevel, "explicit adult content allowed"},
}

// BuildPrompt turns the photo request into the text prompt sent upstream.
// A custom prompt replaces the scene description but keeps the subject and
// rating constraints.
func BuildPrompt(req domain.Request) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("Photorealistic portrait of companion %q, consistent face and body with previous photos.", req.SubjectID))

	if custom := strings.TrimSpace(req.CustomPrompt); custom != "" {
		lines = append(lines, "Scene: "+custom+".")
	} else if ctx := strings.TrimSpace(req.Context); ctx != "" {
		lines = append(lines, "Scene inspired by the conversation: "+ctx+".")
	} else {
		lines = append(lines, "Scene: casual selfie, natural light.")
	}

	level := 0
	if req.NSFWLevel != nil {
		level = *req.NSFWLevel
	}
	lines = append(lines, "Rating: "+nsfwLabel(level)+".")

	if req.HighQuality {
		lines = append(lines, "Render in high detail with sharp focus and professional lighting.")
	}
	lines = append(lines, "Adult subject only.")
	return strings.Join(lines, "\n")
}

func nsfwLabel(level int) string {
	for _, tier := range nsfwTiers {
		if level <= tier.max {
			return tier.label
		}
	}
	return nsfwTiers[len(nsfwTiers)-1].label
}
