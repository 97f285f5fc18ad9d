package ocr

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// TextDetector is the subset of the Rekognition client used here.
type TextDetector interface {
	DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
}

// Rekognition recognizes plate text with the AWS Rekognition DetectText API.
type Rekognition struct {
	client        TextDetector
	minConfidence float32
	log           zerolog.Logger
}

// NewRekognition loads AWS credentials from the default chain and creates a
// Rekognition-backed recognizer for the given region.
func NewRekognition(ctx context.Context, region string, log zerolog.Logger) (*Rekognition, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewRekognitionWithClient(rekognition.NewFromConfig(cfg), log), nil
}

// NewRekognitionWithClient wraps an existing DetectText client.
func NewRekognitionWithClient(client TextDetector, log zerolog.Logger) *Rekognition {
	return &Rekognition{
		client:        client,
		minConfidence: 50,
		log:           log.With().Str("component", "rekognition").Logger(),
	}
}

// Recognize sends the plate image to Rekognition and returns the detected
// lines ordered top to bottom, then left to right.
func (r *Rekognition) Recognize(ctx context.Context, img gocv.Mat) ([]string, error) {
	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	out, err := r.client.DetectText(ctx, &rekognition.DetectTextInput{
		Image: &types.Image{Bytes: buf.GetBytes()},
	})
	if err != nil {
		return nil, fmt.Errorf("rekognition DetectText: %w", err)
	}

	lines := linesFrom(out.TextDetections, r.minConfidence)
	r.log.Debug().Int("detections", len(out.TextDetections)).Strs("lines", lines).Msg("recognized")
	return lines, nil
}

func linesFrom(detections []types.TextDetection, minConfidence float32) []string {
	type line struct {
		text string
		top  float32
		left float32
	}
	var found []line
	for _, d := range detections {
		if d.Type != types.TextTypesLine || d.DetectedText == nil {
			continue
		}
		if aws.ToFloat32(d.Confidence) < minConfidence {
			continue
		}
		text := strings.ToUpper(strings.TrimSpace(aws.ToString(d.DetectedText)))
		if text == "" {
			continue
		}
		l := line{text: text}
		if d.Geometry != nil && d.Geometry.BoundingBox != nil {
			l.top = aws.ToFloat32(d.Geometry.BoundingBox.Top)
			l.left = aws.ToFloat32(d.Geometry.BoundingBox.Left)
		}
		found = append(found, l)
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].top != found[j].top {
			return found[i].top < found[j].top
		}
		return found[i].left < found[j].left
	})

	texts := make([]string, len(found))
	for i, l := range found {
		texts[i] = l.text
	}
	return texts
}
