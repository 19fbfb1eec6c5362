package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	all := []JobStatus{
		JobStatusUploading, JobStatusQueued, JobStatusRunning,
		JobStatusSucceeded, JobStatusFailed,
	}

	allowed := map[JobStatus][]JobStatus{
		JobStatusUploading: {JobStatusQueued},
		JobStatusQueued:    {JobStatusRunning, JobStatusFailed},
		JobStatusRunning:   {JobStatusSucceeded, JobStatusFailed},
		JobStatusSucceeded: {},
		JobStatusFailed:    {},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, JobStatusSucceeded.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.False(t, JobStatusUploading.Terminal())
}

func TestParamsDefaults(t *testing.T) {
	j := &Job{}
	p := j.Params()
	assert.Equal(t, DefaultConf, p.Conf)
	assert.Equal(t, DefaultIoU, p.IoU)
	assert.Equal(t, DefaultImgSize, p.ImgSize)

	conf, iou, imgsz := 0.5, 0.7, 320
	j = &Job{Conf: &conf, IoU: &iou, ImgSize: &imgsz}
	p = j.Params()
	assert.Equal(t, 0.5, p.Conf)
	assert.Equal(t, 0.7, p.IoU)
	assert.Equal(t, 320, p.ImgSize)
}

func TestViewArtifactFlags(t *testing.T) {
	j := &Job{ID: "a", Status: JobStatusRunning}
	v := j.View()
	assert.False(t, v.HasResultJSON)
	assert.False(t, v.HasAnnotatedImage)

	rp, ap := "outputs/a/result.json", "outputs/a/annotated.jpg"
	j.Status = JobStatusSucceeded
	j.ResultPath = &rp
	j.AnnotatedPath = &ap
	v = j.View()
	assert.True(t, v.HasResultJSON)
	assert.True(t, v.HasAnnotatedImage)
}

func TestKindForContentType(t *testing.T) {
	k, ok := KindForContentType("image/jpeg")
	assert.True(t, ok)
	assert.Equal(t, MediaKindImage, k)

	k, ok = KindForContentType("video/mp4")
	assert.True(t, ok)
	assert.Equal(t, MediaKindVideo, k)

	_, ok = KindForContentType("application/pdf")
	assert.False(t, ok)
}
