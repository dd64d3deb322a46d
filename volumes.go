package vold

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

func (d *Disk) createPublicVolume(dev Device, partIndex uint) (*VolumeRef, error) {
	return d.createVolume(VolumeSpec{
		ID:       VolumeID(VolumePublic, dev),
		DiskID:   d.id,
		Type:     VolumePublic,
		Device:   dev,
		LinkName: d.volLinkName(partIndex),
	})
}

func (d *Disk) createPrivateVolume(dev Device, partGUID GUID, partIndex uint) (*VolumeRef, error) {
	return d.createVolume(VolumeSpec{
		ID:       VolumeID(VolumePrivate, dev),
		DiskID:   d.id,
		Type:     VolumePrivate,
		Device:   dev,
		PartGUID: partGUID,
		LinkName: d.volLinkName(partIndex),
	})
}

func (d *Disk) volLinkName(partIndex uint) string {
	return VolumeLinkName(d.nickname, partIndex)
}

// createVolume builds the volume and appends it to the disk. Volumes built
// right after a table write are marked for a first use format.
func (d *Disk) createVolume(spec VolumeSpec) (*VolumeRef, error) {
	if d.factory == nil {
		return nil, errors.Wrapf(ErrVolumeOp, "create %s: no volume factory", spec.ID)
	}

	vol, err := d.factory.NewVolume(spec)
	if err != nil {
		return nil, errors.Wrapf(ErrVolumeOp, "create %s: %s", spec.ID, err)
	}

	d.mu.Lock()
	ref := newVolumeRef(vol, spec, d.justPartitioned, d.notifier.Notify)

	if d.destroyed() {
		d.mu.Unlock()
		// Destroy already took the volume list, this one is never published.
		_ = ref.destroy()

		return nil, errors.Wrapf(ErrDestroyed, "create %s", spec.ID)
	}

	d.volumes = append(d.volumes, ref)
	d.mu.Unlock()

	d.log.WithField("volume", spec.ID).Infof("created %s volume on %s", spec.Type, spec.Device)
	d.notifier.Notify(Event{Code: VolumeCreated, ID: spec.ID, Value: d.id})

	return ref, nil
}

// destroyAllVolumes takes the volume list and destroys it.
func (d *Disk) destroyAllVolumes() error {
	d.mu.Lock()
	vols := d.volumes
	d.volumes = nil
	d.mu.Unlock()

	return d.destroyVolumes(vols)
}

// destroyVolumes destroys vols last first. Every volume is attempted.
func (d *Disk) destroyVolumes(vols []*VolumeRef) error {
	var result *multierror.Error

	for i := len(vols) - 1; i >= 0; i-- {
		v := vols[i]

		if err := v.destroy(); err != nil {
			d.log.WithField("volume", v.ID()).Warnf("destroy: %s", err)
			result = multierror.Append(result, err)
		}

		d.notifier.Notify(Event{Code: VolumeDestroyed, ID: v.ID(), Value: d.id})
	}

	return result.ErrorOrNil()
}

func unmountVolumes(vols []*VolumeRef) error {
	var result *multierror.Error

	for _, v := range vols {
		if err := v.Unmount(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}
