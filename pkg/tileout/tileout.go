// Package tileout archives position solutions into a TileDB array, one
// cell per epoch keyed by nanosecond timestamp.
package tileout

import (
	"fmt"

	tiledb "github.com/TileDB-Inc/TileDB-Go"

	"github.com/navfoundry/ubx2rinex/pkg/assembler"
)

// WritePositions appends the position solutions of epochs to the array at
// arr. Epochs without a solution are skipped. region configures S3-backed
// array access and may be empty for local arrays.
func WritePositions(arr string, region string, epochs []*assembler.Epoch) error {
	timeBuffer := []int64{}
	latitudeBuffer := []float64{}
	longitudeBuffer := []float64{}
	heightBuffer := []float64{}
	northVelocityBuffer := []float64{}
	eastVelocityBuffer := []float64{}
	downVelocityBuffer := []float64{}
	fixTypeBuffer := []uint8{}
	numSVBuffer := []uint8{}

	for _, e := range epochs {
		if e.PVT == nil {
			continue
		}
		timeBuffer = append(timeBuffer, e.Time.UnixNano())
		latitudeBuffer = append(latitudeBuffer, e.PVT.Lat)
		longitudeBuffer = append(longitudeBuffer, e.PVT.Lon)
		heightBuffer = append(heightBuffer, e.PVT.Height)
		northVelocityBuffer = append(northVelocityBuffer, e.PVT.VelN)
		eastVelocityBuffer = append(eastVelocityBuffer, e.PVT.VelE)
		downVelocityBuffer = append(downVelocityBuffer, e.PVT.VelD)
		fixTypeBuffer = append(fixTypeBuffer, e.PVT.FixType)
		numSVBuffer = append(numSVBuffer, e.PVT.NumSV)
	}
	if len(timeBuffer) == 0 {
		return fmt.Errorf("no position solutions to write")
	}

	config, err := tiledb.NewConfig()
	if err != nil {
		return err
	}
	if region != "" {
		if err := config.Set("vfs.s3.region", region); err != nil {
			return err
		}
	}
	ctx, err := tiledb.NewContext(config)
	if err != nil {
		return fmt.Errorf("error creating TileDB context with config: %v", err)
	}
	defer ctx.Free()

	array, err := tiledb.NewArray(ctx, arr)
	if err != nil {
		return fmt.Errorf("error creating TileDB array: %v", err)
	}
	defer array.Free()

	err = array.Open(tiledb.TILEDB_WRITE)
	if err != nil {
		return fmt.Errorf("error opening TileDB array for writing: %v", err)
	}
	defer array.Close()

	query, err := tiledb.NewQuery(ctx, array)
	if err != nil {
		return fmt.Errorf("error creating TileDB query: %v", err)
	}
	defer query.Free()

	err = query.SetLayout(tiledb.TILEDB_UNORDERED)
	if err != nil {
		return err
	}

	_, err = query.SetDataBuffer("time", timeBuffer)
	if err != nil {
		return err
	}
	_, err = query.SetDataBuffer("latitude", latitudeBuffer)
	if err != nil {
		return err
	}
	_, err = query.SetDataBuffer("longitude", longitudeBuffer)
	if err != nil {
		return err
	}
	_, err = query.SetDataBuffer("height", heightBuffer)
	if err != nil {
		return err
	}
	_, err = query.SetDataBuffer("north_velocity", northVelocityBuffer)
	if err != nil {
		return err
	}
	_, err = query.SetDataBuffer("east_velocity", eastVelocityBuffer)
	if err != nil {
		return err
	}
	_, err = query.SetDataBuffer("down_velocity", downVelocityBuffer)
	if err != nil {
		return err
	}
	_, err = query.SetDataBuffer("fix_type", fixTypeBuffer)
	if err != nil {
		return err
	}
	_, err = query.SetDataBuffer("num_sv", numSVBuffer)
	if err != nil {
		return err
	}

	err = query.Submit()
	if err != nil {
		return err
	}

	return query.Finalize()
}

// ArrayExists reports whether a TileDB array schema can be loaded at the
// given path.
func ArrayExists(arrayPath string) bool {
	ctx, err := tiledb.NewContext(nil)
	if err != nil {
		return false
	}
	defer ctx.Free()

	schema, err := tiledb.LoadArraySchema(ctx, arrayPath)
	if err != nil {
		return false
	}
	return schema != nil
}
