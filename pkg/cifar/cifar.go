// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cifar downloads and loads the CIFAR-10 and CIFAR-100 datasets into host memory.
// Information about them in https://www.cs.toronto.edu/~kriz/cifar.html
//
// Images are kept in channels-first layout ([Channels, Height, Width]) with values scaled to [0, 1].
package cifar

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"slices"

	"github.com/cifartrain/cifartrain/internal/downloader"
	"github.com/cifartrain/cifartrain/internal/fsutil"
	"github.com/cifartrain/cifartrain/pkg/augment"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	C10Url     = "https://www.cs.toronto.edu/~kriz/cifar-10-binary.tar.gz"
	C10TarName = "cifar-10-binary.tar.gz"
	C10SubDir  = "cifar-10-batches-bin"
	C10Hash    = "c4a38c50a1bc5f3a1c5537f2155ab9d68f9f25eb1ed8d9ddda3db29a59bca1dd"

	C100Url     = "https://www.cs.toronto.edu/~kriz/cifar-100-binary.tar.gz"
	C100TarName = "cifar-100-binary.tar.gz"
	C100SubDir  = "cifar-100-binary"
	C100Hash    = "58a81ae192c23a4be8b1804d68e518ed807d710a4eb253b1f2a199162a40d8ec"

	// NumTrainExamples and NumTestExamples are the same for both, CIFAR-10 and CIFAR-100.
	NumTrainExamples = 50000
	NumTestExamples  = 10000
)

// Width, Height and Depth (channels) of the images, the same for CIFAR-10 and CIFAR-100.
const (
	Width  int = 32
	Height int = 32
	Depth  int = 3
)

const imageSizeBytes = Height * Width * Depth

var (
	C10Labels = []string{"airplane", "automobile", "bird", "cat", "deer", "dog", "frog", "horse", "ship", "truck"}

	C100FineLabels = []string{"apple", "aquarium_fish", "baby", "bear", "beaver", "bed", "bee", "beetle", "bicycle",
		"bottle", "bowl", "boy", "bridge", "bus", "butterfly", "camel", "can", "castle", "caterpillar", "cattle",
		"chair", "chimpanzee", "clock", "cloud", "cockroach", "couch", "crab", "crocodile", "cup", "dinosaur",
		"dolphin", "elephant", "flatfish", "forest", "fox", "girl", "hamster", "house", "kangaroo", "keyboard", "lamp",
		"lawn_mower", "leopard", "lion", "lizard", "lobster", "man", "maple_tree", "motorcycle", "mountain", "mouse",
		"mushroom", "oak_tree", "orange", "orchid", "otter", "palm_tree", "pear", "pickup_truck", "pine_tree", "plain",
		"plate", "poppy", "porcupine", "possum", "rabbit", "raccoon", "ray", "road", "rocket", "rose", "sea", "seal",
		"shark", "shrew", "skunk", "skyscraper", "snail", "snake", "spider", "squirrel", "streetcar", "sunflower",
		"sweet_pepper", "table", "tank", "telephone", "television", "tiger", "tractor", "train", "trout", "tulip",
		"turtle", "wardrobe", "whale", "willow_tree", "wolf", "woman", "worm"}
)

// Source refers to CIFAR-10 (C10) or CIFAR-100 (C100).
type Source int

const (
	C10 Source = iota
	C100
)

// Sources lists the names accepted by ParseSource, in Source order.
var Sources = []string{"cifar10", "cifar100"}

// ParseSource converts "cifar10" or "cifar100" to a Source.
func ParseSource(name string) (Source, error) {
	for ii, s := range Sources {
		if s == name {
			return Source(ii), nil
		}
	}
	return 0, errors.Errorf("unknown dataset %q, valid values are %v", name, Sources)
}

// String implements fmt.Stringer.
func (s Source) String() string {
	if int(s) < 0 || int(s) >= len(Sources) {
		return fmt.Sprintf("Source(%d)", int(s))
	}
	return Sources[s]
}

// DisplayName is used in status messages, e.g.: "CIFAR10".
func (s Source) DisplayName() string {
	if s == C100 {
		return "CIFAR100"
	}
	return "CIFAR10"
}

// Labels returns the class names, indexed by label.
func (s Source) Labels() []string {
	if s == C100 {
		return C100FineLabels
	}
	return C10Labels
}

// NumClasses is the number of distinct labels.
func (s Source) NumClasses() int { return len(s.Labels()) }

// Download the dataset archive into dataDir, if not there yet, and untar it.
func Download(dataDir string, source Source) error {
	if source == C100 {
		return downloader.DownloadAndUntarIfMissing(C100Url, dataDir, C100TarName, C100SubDir, C100Hash)
	}
	return downloader.DownloadAndUntarIfMissing(C10Url, dataDir, C10TarName, C10SubDir, C10Hash)
}

// Dataset holds one partition (train or test) of the images in host memory.
type Dataset struct {
	Name   string
	Pixels []float32 // [NumExamples, Depth, Height, Width] flattened.
	Labels []int
}

// Len returns the number of examples.
func (ds *Dataset) Len() int { return len(ds.Labels) }

// SampleShape is the shape of one image: [Depth, Height, Width].
func (ds *Dataset) SampleShape() []int { return []int{Depth, Height, Width} }

// Sample returns the i-th example. The image shares memory with the dataset and must not be modified.
func (ds *Dataset) Sample(i int) augment.Sample {
	pix := ds.Pixels[i*imageSizeBytes : (i+1)*imageSizeBytes : (i+1)*imageSizeBytes]
	return augment.Sample{
		Image: augment.Image{Channels: Depth, Height: Height, Width: Width, Pix: pix},
		Label: ds.Labels[i],
	}
}

// readRecords appends the records read from r to ds. Each record has labelBytes bytes of labels,
// of which the one at labelIndex is used, followed by the image bytes in channels-first order.
func (ds *Dataset) readRecords(r io.Reader, labelBytes, labelIndex int) error {
	record := make([]byte, labelBytes+imageSizeBytes)
	br := bufio.NewReader(r)
	for count := 0; ; count++ {
		n, err := io.ReadFull(br, record)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "reading record %d (read %d of %d bytes)", count, n, len(record))
		}
		ds.Labels = append(ds.Labels, int(record[labelIndex]))
		for _, b := range record[labelBytes:] {
			ds.Pixels = append(ds.Pixels, float32(b)/255)
		}
	}
}

func (ds *Dataset) readFile(filePath string, labelBytes, labelIndex int) error {
	f, err := os.Open(filePath)
	if err != nil {
		return errors.Wrapf(err, "opening data file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	if info, err := f.Stat(); err == nil {
		numRecords := int(info.Size()) / (labelBytes + imageSizeBytes)
		ds.Labels = slices.Grow(ds.Labels, numRecords)
		ds.Pixels = slices.Grow(ds.Pixels, numRecords*imageSizeBytes)
	}
	if err = ds.readRecords(f, labelBytes, labelIndex); err != nil {
		return errors.WithMessagef(err, "data file %q", filePath)
	}
	return nil
}

// Load reads the train and test partitions of the dataset previously downloaded into dataDir.
// For CIFAR-100 the fine labels are used.
func Load(dataDir string, source Source) (trainDS, testDS *Dataset, err error) {
	dataDir, err = fsutil.ReplaceTildeInDir(dataDir)
	if err != nil {
		return nil, nil, err
	}
	trainDS = &Dataset{Name: "Training"}
	testDS = &Dataset{Name: "Validation"}
	switch source {
	case C10:
		for ii := range 5 {
			filePath := path.Join(dataDir, C10SubDir, fmt.Sprintf("data_batch_%d.bin", ii+1))
			if err = trainDS.readFile(filePath, 1, 0); err != nil {
				return nil, nil, err
			}
		}
		err = testDS.readFile(path.Join(dataDir, C10SubDir, "test_batch.bin"), 1, 0)
	case C100:
		// Records hold the coarse label followed by the fine label.
		if err = trainDS.readFile(path.Join(dataDir, C100SubDir, "train.bin"), 2, 1); err != nil {
			return nil, nil, err
		}
		err = testDS.readFile(path.Join(dataDir, C100SubDir, "test.bin"), 2, 1)
	default:
		return nil, nil, errors.Errorf("unknown dataset source %s", source)
	}
	if err != nil {
		return nil, nil, err
	}
	klog.V(1).Infof("loaded %s: %d train and %d test examples", source, trainDS.Len(), testDS.Len())
	return trainDS, testDS, nil
}

// DownloadAndLoad is Download followed by Load.
func DownloadAndLoad(dataDir string, source Source) (trainDS, testDS *Dataset, err error) {
	dataDir, err = fsutil.ReplaceTildeInDir(dataDir)
	if err != nil {
		return nil, nil, err
	}
	if err = os.MkdirAll(dataDir, 0o777); err != nil {
		return nil, nil, errors.Wrapf(err, "failed to create data directory %q", dataDir)
	}
	if err = Download(dataDir, source); err != nil {
		return nil, nil, err
	}
	return Load(dataDir, source)
}
