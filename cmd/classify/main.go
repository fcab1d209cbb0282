// Command classify runs the lesion classifier over image files without
// starting the HTTP server.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/Brownie44l1/lesion-api/internal/classifier"
	"github.com/Brownie44l1/lesion-api/internal/config"
	"github.com/Brownie44l1/lesion-api/internal/logging"
	"github.com/Brownie44l1/lesion-api/internal/model"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	modelPath := flag.String("model", "", "ONNX model path (overrides config)")
	metadataPath := flag.String("metadata", "", "model metadata path (overrides config)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] image...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if *configPath != "" {
		os.Setenv("CONFIG_PATH", *configPath)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *modelPath != "" {
		cfg.ModelPath = *modelPath
	}
	if *metadataPath != "" {
		cfg.MetadataPath = *metadataPath
	}

	logger, err := logging.New(*verbose)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	modelServer, err := model.NewServer(model.Options{
		ModelPath:      cfg.ModelPath,
		MetadataPath:   cfg.MetadataPath,
		LibraryPath:    cfg.RuntimeLibrary,
		IntraOpThreads: cfg.IntraOpThreads,
	})
	if err != nil {
		logger.Fatal("failed to load model", zap.Error(err))
	}
	defer modelServer.Close()

	clf, err := classifier.FromServer(modelServer, logger)
	if err != nil {
		logger.Fatal("failed to build classifier", zap.Error(err))
	}

	failed := 0
	for _, path := range flag.Args() {
		if err := classifyFile(clf, path); err != nil {
			logger.Error("classify", zap.String("path", path), zap.Error(err))
			failed++
		}
	}
	if failed > 0 {
		logger.Sync()
		modelServer.Close()
		os.Exit(1)
	}
}

func classifyFile(clf *classifier.Classifier, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := clf.ClassifyReader(f)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\t%.4f\n", path, res.Label, res.Scores[res.Label])
	return nil
}
