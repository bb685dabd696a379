package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/tessera-db/tessera/pkg/clock"
	"github.com/tessera-db/tessera/pkg/extentdevice"
	"github.com/tessera-db/tessera/pkg/program"
	"github.com/tessera-db/tessera/pkg/serializer"
	"github.com/tessera-db/tessera/pkg/util"

	"github.com/ncw/directio"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"golang.org/x/sync/semaphore"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func main() {
	program.RunMain(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
		var (
			dataPath            = flag.String("data-path", "", "Path of the file or block device holding the data extents")
			statePath           = flag.String("state-path", "", "Path of the directory holding the superblock, checkpoint and journal")
			create              = flag.Bool("create", false, "Initialize a new store before opening it")
			directIO            = flag.Bool("direct-io", false, "Open the data path with direct I/O")
			storeName           = flag.String("store-name", "default", "Name used to label Prometheus metrics")
			maxBlockSizeBytes   = flag.Int64("max-block-size-bytes", 0, "Maximum payload size of a single block, applied at creation time")
			extentSizeBytes     = flag.Int64("extent-size-bytes", 0, "Extent size, applied at creation time")
			slotAlignmentBytes  = flag.Int64("slot-alignment-bytes", 0, "Block slot alignment, applied at creation time")
			minimumExtents      = flag.Uint("minimum-extents", 16, "Number of extents to size the data path for initially")
			ioConcurrency       = flag.Int("io-concurrency", 0, "Number of I/O requests admitted in parallel")
			writeConcurrency    = flag.Int64("write-concurrency", 0, "Maximum number of concurrent writes against the data path, zero meaning unlimited")
			gcInterval          = flag.Duration("gc-interval", 0, "Pause between garbage collection cycles")
			gcLivenessThreshold = flag.Float64("gc-liveness-threshold", 0, "Live-byte fraction below which an old extent is compacted")
			gcBudgetBytes       = flag.Int64("gc-budget-bytes", 0, "Maximum number of live bytes relocated per garbage collection cycle")
			youngExtentEpochLag = flag.Uint64("young-extent-epoch-lag", 0, "Number of index epochs an extent stays young after filling up")
			checkpointInterval  = flag.Duration("checkpoint-interval", 0, "Pause between index checkpoints")
			metricsAddress      = flag.String("metrics-address", "", "Address to serve Prometheus metrics on, empty meaning disabled")
		)
		flag.Parse()
		if *dataPath == "" || *statePath == "" {
			return status.Error(codes.InvalidArgument, "Both -data-path and -state-path must be set")
		}

		stateStore := serializer.NewDirectoryBackedStateStore(*statePath)
		staticConfig := serializer.StaticConfig{
			MaxBlockSizeBytes:  *maxBlockSizeBytes,
			ExtentSizeBytes:    *extentSizeBytes,
			SlotAlignmentBytes: *slotAlignmentBytes,
		}
		if *directIO && staticConfig.SlotAlignmentBytes == 0 {
			// Direct I/O requires all slot I/O to be aligned to
			// the direct I/O block size.
			staticConfig.SlotAlignmentBytes = directio.BlockSize
		}
		deviceExtentSizeBytes := staticConfig.ExtentSizeBytes
		if *create {
			if deviceExtentSizeBytes == 0 {
				deviceExtentSizeBytes = serializer.DefaultStaticConfig().ExtentSizeBytes
			}
		} else {
			// The device must be opened with the extent size
			// the store was created with.
			superblock, err := stateStore.ReadSuperblock()
			if err != nil {
				return util.StatusWrap(err, "Failed to read superblock")
			}
			deviceExtentSizeBytes = superblock.ExtentSizeBytes
		}

		var device extentdevice.ExtentDevice
		var err error
		if *directIO {
			device, err = extentdevice.NewDirectFileExtentDevice(*dataPath, deviceExtentSizeBytes, uint32(*minimumExtents))
		} else {
			device, err = extentdevice.NewFileExtentDevice(*dataPath, deviceExtentSizeBytes, uint32(*minimumExtents), false)
		}
		if err != nil {
			return util.StatusWrapf(err, "Failed to open data path %#v", *dataPath)
		}
		if *writeConcurrency > 0 {
			device = extentdevice.NewWriteConcurrencyLimitingExtentDevice(device, semaphore.NewWeighted(*writeConcurrency))
		}

		if *create {
			if err := serializer.Create(device, stateStore, staticConfig); err != nil {
				return util.StatusWrap(err, "Failed to create store")
			}
		}

		s, err := serializer.New(device, stateStore, clock.SystemClock, util.DefaultErrorLogger, serializer.DynamicConfig{
			StoreName:           *storeName,
			IOConcurrency:       *ioConcurrency,
			GCInterval:          *gcInterval,
			GCLivenessThreshold: *gcLivenessThreshold,
			GCBudgetBytes:       *gcBudgetBytes,
			YoungExtentEpochLag: *youngExtentEpochLag,
			CheckpointInterval:  *checkpointInterval,
		})
		if err != nil {
			return util.StatusWrap(err, "Failed to open store")
		}

		siblingsGroup.Go(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
			err := s.Run(ctx)
			if closeErr := s.Close(); err == nil {
				err = closeErr
			}
			return err
		})

		if *metricsAddress != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			server := &http.Server{
				Addr:    *metricsAddress,
				Handler: mux,
			}
			siblingsGroup.Go(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
			siblingsGroup.Go(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
				if err := server.ListenAndServe(); err != http.ErrServerClosed {
					return util.StatusWrap(err, "Failed to serve metrics")
				}
				return nil
			})
			log.Printf("Serving Prometheus metrics on %s", *metricsAddress)
		}
		return nil
	})
}
