// Package model provides data structures describing model artifacts and the
// parameters needed to acquire them.
package model

import (
	"net/url"

	"github.com/hashicorp/go-version"
	"github.com/modelpull/modelpull/pkg/errors"
)

// Format describes the on-the-wire shape of a model artifact.
type Format string

const (
	// FormatSingleFile is a model served as one downloadable file.
	FormatSingleFile Format = "single-file"
	// FormatArchive is a model packaged inside a compressed archive.
	FormatArchive Format = "archive"
)

// ArchiveKind identifies the archive container of an archive-format artifact.
type ArchiveKind string

const (
	// ArchiveNone marks a non-archive artifact.
	ArchiveNone ArchiveKind = ""
	// ArchiveZip is a .zip archive.
	ArchiveZip ArchiveKind = "zip"
	// ArchiveTarGz is a gzip-compressed tarball.
	ArchiveTarGz ArchiveKind = "tar.gz"
	// ArchiveTarBz2 is a bzip2-compressed tarball.
	ArchiveTarBz2 ArchiveKind = "tar.bz2"
	// ArchiveTarXz is an xz-compressed tarball.
	ArchiveTarXz ArchiveKind = "tar.xz"
)

// Descriptor carries the identity and acquisition parameters for one model.
type Descriptor struct {
	ID           string      `json:"id" yaml:"id"`
	SourceURL    string      `json:"url" yaml:"url"`
	Format       Format      `json:"format" yaml:"format"`
	ArchiveKind  ArchiveKind `json:"archive_kind,omitempty" yaml:"archive_kind,omitempty"`
	ExpectedSize int64       `json:"expected_size,omitempty" yaml:"expected_size,omitempty"`
	StrategyID   string      `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Version      string      `json:"version,omitempty" yaml:"version,omitempty"`
}

// Validate checks the descriptor's internal consistency. All failures wrap
// errors.ErrInvalidDescriptor so callers can classify them with errors.Is.
func (d *Descriptor) Validate() error {
	if d.ID == "" {
		return errors.Wrap(errors.ErrInvalidDescriptor, "model id is required")
	}
	if d.SourceURL == "" {
		return errors.Wrapf(errors.ErrInvalidDescriptor, "model %s: %v", d.ID, errors.ErrEmptySourceURL)
	}
	u, err := url.Parse(d.SourceURL)
	if err != nil || u.Scheme == "" {
		return errors.Wrapf(errors.ErrInvalidDescriptor, "model %s: malformed source URL %q", d.ID, d.SourceURL)
	}
	switch d.Format {
	case FormatSingleFile:
		if d.ArchiveKind != ArchiveNone {
			return errors.Wrapf(errors.ErrInvalidDescriptor, "model %s: %v", d.ID, errors.ErrArchiveKindMismatch)
		}
	case FormatArchive:
		switch d.ArchiveKind {
		case ArchiveZip, ArchiveTarGz, ArchiveTarBz2, ArchiveTarXz:
		case ArchiveNone:
			return errors.Wrapf(errors.ErrInvalidDescriptor, "model %s: %v", d.ID, errors.ErrArchiveKindMismatch)
		default:
			return errors.Wrapf(errors.ErrInvalidDescriptor, "model %s: unknown archive kind %q", d.ID, d.ArchiveKind)
		}
	default:
		return errors.Wrapf(errors.ErrInvalidDescriptor, "model %s: unknown format %q", d.ID, d.Format)
	}
	if d.Version != "" {
		if _, err := version.NewVersion(d.Version); err != nil {
			return errors.Wrapf(errors.ErrInvalidDescriptor, "model %s: invalid version %q", d.ID, d.Version)
		}
	}
	if d.ExpectedSize < 0 {
		return errors.Wrapf(errors.ErrInvalidDescriptor, "model %s: negative expected size", d.ID)
	}
	return nil
}

// GetVersion returns the parsed semantic version of this descriptor, or nil
// when no version is set or it does not parse.
func (d *Descriptor) GetVersion() *version.Version {
	if d.Version == "" {
		return nil
	}
	v, err := version.NewVersion(d.Version)
	if err != nil {
		return nil
	}
	return v
}

// IsArchive reports whether the artifact needs extraction after transfer.
func (d *Descriptor) IsArchive() bool {
	return d.Format == FormatArchive
}
