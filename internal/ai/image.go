package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"personalchat/internal/config"
)

const defaultImageModel = "imagen-3.0-generate-002"

// ImageClient produces images through the genai API. The result is returned
// as a self-contained data URL reference.
type ImageClient struct {
	client *genai.Client
	model  string
}

// NewImageClient builds the image backend from the "imagen" provider entry,
// falling back to the gemini credentials when none is configured.
func NewImageClient(ctx context.Context, cfg *config.Config) (*ImageClient, error) {
	provCfg, ok := cfg.Providers["imagen"]
	if !ok {
		provCfg, ok = cfg.Providers["gemini"]
	}
	if !ok || provCfg.APIKey == "" {
		return nil, errors.New("no image provider configured")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: provCfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("imagen client: %w", err)
	}
	modelName := provCfg.Model
	if modelName == "" || modelName == cfg.Providers["gemini"].Model {
		modelName = defaultImageModel
	}
	return &ImageClient{client: client, model: modelName}, nil
}

// GenerateImage renders one image for the prompt and returns its reference.
func (c *ImageClient) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateImages(ctx, c.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	})
	if err != nil {
		return "", fmt.Errorf("generate image: %w", err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return "", errors.New("image backend returned no image")
	}
	img := resp.GeneratedImages[0].Image
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(img.ImageBytes)), nil
}
