// Package mediasync mirrors an S3 bucket into one library folder so a remote
// party can add or remove media without touching the device.
package mediasync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/tpersp/piviewer/config"
	"github.com/tpersp/piviewer/util"
)

const syncTimeout = 30 * time.Minute

// Manager reconciles the bucket against the local folder on a fixed
// interval. When anything changed it fires the library-changed callback so
// the rotation scheduler invalidates the affected cached sequences.
type Manager struct {
	client *s3.Client

	s3Bucket   string
	folder     string
	outputPath string
	interval   time.Duration

	libraryChanged func(folder string)
}

func NewManager(cfg config.MediaSync, imageDir string, libraryChanged func(folder string)) (*Manager, error) {
	ctxCfg, cancelCfg := context.WithTimeout(context.Background(), 3*time.Second)
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctxCfg,
		awsconfig.WithSharedConfigProfile(cfg.AWSProfile),
	)
	cancelCfg()
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	outputPath := filepath.Join(imageDir, cfg.Folder)
	if err := os.MkdirAll(outputPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sync folder: %w", err)
	}

	return &Manager{
		client:         s3.NewFromConfig(awsCfg),
		s3Bucket:       cfg.S3Bucket,
		folder:         cfg.Folder,
		outputPath:     outputPath,
		interval:       time.Duration(cfg.IntervalMinutes) * time.Minute,
		libraryChanged: libraryChanged,
	}, nil
}

func (m *Manager) getS3Objects(ctx context.Context) ([]s3types.Object, error) {
	output, err := m.client.ListObjectsV2(
		ctx,
		&s3.ListObjectsV2Input{
			Bucket: aws.String(m.s3Bucket),
		},
	)
	if err != nil {
		return nil, err
	}
	return output.Contents, nil
}

func (m *Manager) downloadObject(ctx context.Context, name string) error {
	downloader := manager.NewDownloader(m.client)

	f, err := os.Create(filepath.Join(m.outputPath, name))
	if err != nil {
		return fmt.Errorf("unable to create file for s3 download, %s, %w", name, err)
	}
	defer f.Close()

	if _, err := downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(m.s3Bucket),
		Key:    aws.String(name),
	}); err != nil {
		return fmt.Errorf("unable to download object from s3, %s, %w", name, err)
	}
	return nil
}

func (m *Manager) getLocalFiles() (mapset.Set[string], error) {
	dirs, err := os.ReadDir(m.outputPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read directory, %s, %w", m.outputPath, err)
	}

	localFiles := mapset.NewSet[string]()
	for _, dir := range dirs {
		name := dir.Name()
		if !util.SupportedExt.Contains(filepath.Ext(name)) {
			continue
		}
		localFiles.Add(name)
	}
	return localFiles, nil
}

func (m *Manager) getRemoteFiles(ctx context.Context) (mapset.Set[string], error) {
	remoteFiles := mapset.NewSet[string]()
	objects, err := m.getS3Objects(ctx)
	if err != nil {
		return nil, err
	}
	for _, object := range objects {
		name := aws.ToString(object.Key)
		if !util.SupportedExt.Contains(filepath.Ext(name)) {
			continue
		}
		remoteFiles.Add(name)
	}
	return remoteFiles, nil
}

// SyncFolder makes the local folder match the bucket: bucket-only files are
// downloaded, local-only files are deleted.
func (m *Manager) SyncFolder(ctx context.Context) error {
	localFiles, err := m.getLocalFiles()
	if err != nil {
		return err
	}

	remoteFiles, err := m.getRemoteFiles(ctx)
	if err != nil {
		return err
	}

	toDelete := localFiles.Difference(remoteFiles).ToSlice()
	toDownload := remoteFiles.Difference(localFiles).ToSlice()

	if len(toDelete) > 0 {
		slog.Info("deleting local files", "folder", m.folder, "count", len(toDelete), "names", toDelete)
		for _, name := range toDelete {
			filePath := filepath.Join(m.outputPath, name)
			if err := os.Remove(filePath); err != nil {
				slog.Warn("unable to remove local file", "error", err)
			}
		}
	}
	if len(toDownload) > 0 {
		slog.Info("adding files", "folder", m.folder, "count", len(toDownload), "names", toDownload)
		for _, name := range toDownload {
			if err := m.downloadObject(ctx, name); err != nil {
				slog.Warn("error while downloading s3 object", "name", name, "error", err)
			}
		}
	}

	if len(toDelete) > 0 || len(toDownload) > 0 {
		m.libraryChanged(m.folder)
	}
	return nil
}

// Run syncs once at startup and then on every tick until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.syncOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.syncOnce(ctx)
		}
	}
}

func (m *Manager) syncOnce(ctx context.Context) {
	syncCtx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()
	if err := m.SyncFolder(syncCtx); err != nil {
		slog.Warn("error while syncing with remote", "error", err)
	}
}
