// Package remote implements display backends that ship frames over the
// network as JPEG images: a WebSocket broadcast and a WebRTC data channel.
package remote

import (
	"fmt"
	"image"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/junsooki/camview/internal/display"
	"github.com/junsooki/camview/internal/encoder"
	"github.com/junsooki/camview/internal/frame"
	xlog "github.com/junsooki/camview/internal/log"
)

// Options is shared by the network backends.
type Options struct {
	Quality   int
	MaxFPS    float64
	MaxWidth  int
	MaxHeight int
}

// scratch is the per-buffer-id resource: conversion and scaling targets.
type scratch struct {
	rgba   *image.RGBA
	scaled *image.RGBA
}

// frameEncoder turns handles into rate-limited JPEG payloads.
type frameEncoder struct {
	opts    Options
	enc     encoder.Encoder
	limiter *rate.Limiter
	log     zerolog.Logger
}

func newFrameEncoder(opts Options, logger zerolog.Logger) *frameEncoder {
	if opts.Quality == 0 {
		opts.Quality = 70
	}
	limit := rate.Inf
	if opts.MaxFPS > 0 {
		limit = rate.Limit(opts.MaxFPS)
	}
	return &frameEncoder{
		opts:    opts,
		enc:     encoder.NewJPEGEncoder(opts.Quality),
		limiter: rate.NewLimiter(limit, 1),
		log:     logger,
	}
}

func (e *frameEncoder) importBuffer(h *frame.Handle) (display.Resource, error) {
	if err := display.CheckFormat(h); err != nil {
		return nil, err
	}
	if h.Format == frame.FormatYUV420 {
		if _, ok := display.ResolveColorSpace(h.ColorSpace); !ok {
			e.log.Warn().
				Int(xlog.FieldBufferID, int(h.ID)).
				Str("color_space", h.ColorSpace.String()).
				Msg("unexpected colour space, encoding as smpte170m")
		}
	}
	return &scratch{}, nil
}

// encode returns nil when the frame is over the rate limit.
func (e *frameEncoder) encode(res display.Resource, h *frame.Handle) ([]byte, error) {
	s, ok := res.(*scratch)
	if !ok {
		return nil, fmt.Errorf("remote: foreign resource %T", res)
	}
	if !e.limiter.Allow() {
		return nil, nil
	}
	rgba, err := display.ToRGBA(s.rgba, h)
	if err != nil {
		return nil, err
	}
	s.rgba = rgba
	img := display.Fit(s.scaled, rgba, e.opts.MaxWidth, e.opts.MaxHeight)
	if scaled, ok := img.(*image.RGBA); ok && scaled != rgba {
		s.scaled = scaled
	}
	return e.enc.Encode(img)
}
