package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/visionrelay/internal/domain"
)

// SatelliteRequest describes a WMS tile the map frontend wants analyzed.
type SatelliteRequest struct {
	WMSURL        string `json:"wms_url"`
	Layer         string `json:"layer"`
	DateRange     string `json:"date_range"`
	CloudCoverage string `json:"cloud_coverage"`
	LocationName  string `json:"location_name"`
	Message       string `json:"message"`
}

// Validate requires a tile URL.
func (r SatelliteRequest) Validate() error {
	if strings.TrimSpace(r.WMSURL) == "" {
		return domain.NewError(domain.KindInvalidInput, "vision.satellite", "wms_url is required", nil)
	}
	return nil
}

// Prompt turns the request into a prompt. Without an explicit message the
// tile parameters are spelled out for the model.
func (r SatelliteRequest) Prompt() domain.Prompt {
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		var b strings.Builder
		b.WriteString("Analyze this satellite imagery with the following parameters:\n\n")
		writeParam(&b, "Area of Interest", r.LocationName)
		writeParam(&b, "Data Layer", r.Layer)
		writeParam(&b, "Date Range", r.DateRange)
		writeParam(&b, "Cloud Coverage", r.CloudCoverage)
		b.WriteString("\nPlease provide detailed interpretation of the satellite data, vegetation health, " +
			"water bodies, geological features, and any environmental patterns visible in the imagery.")
		msg = b.String()
	}
	return domain.Prompt{Message: msg, ImageURLs: []string{r.WMSURL}}
}

func writeParam(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", name, value)
}

// AnalyzeSatellite downloads the tile and analyzes it.
func (c *Client) AnalyzeSatellite(ctx context.Context, r SatelliteRequest) domain.ChatResult {
	if err := r.Validate(); err != nil {
		return domain.FailureResult(err)
	}
	return c.Chat(ctx, r.Prompt())
}

// AnalyzeSatelliteStream is the streaming form of AnalyzeSatellite.
func (c *Client) AnalyzeSatelliteStream(ctx context.Context, r SatelliteRequest) (*domain.StreamHandle, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return c.ChatStream(ctx, r.Prompt())
}
