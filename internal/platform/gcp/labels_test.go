package gcp

import (
	"reflect"
	"testing"

	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
)

func TestLabelsFromAnnotations(t *testing.T) {
	anns := []*visionpb.EntityAnnotation{
		{Description: "Sky", Score: 0.71},
		{Description: "Neon", Score: 0.93},
		nil,
		{Description: "sky", Score: 0.60},
		{Description: "  ", Score: 0.99},
		{Description: "Blur", Score: 0.20},
	}
	got := labelsFromAnnotations(anns, 0.5)
	want := []string{"neon", "sky"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("labels: want=%v got=%v", want, got)
	}
}
