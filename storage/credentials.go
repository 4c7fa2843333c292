package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// Credentials holds an access key pair for stores that need one, such as
// S3-backed locations.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

// Header aliases seen in console-exported access key CSV files.
var (
	accessKeyAliases = []string{"aws_access_key_id", "access_key_id", "access key id"}
	secretKeyAliases = []string{"aws_secret_access_key", "secret_access_key", "secret access key"}
)

// LoadCredentials reads credentials from the given source: "env" reads
// AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY from the environment, a path
// ending in .csv reads the first data row of a console-exported access key
// file.
func LoadCredentials(source string) (*Credentials, error) {
	if source == "env" {
		return loadEnvCredentials()
	}
	if strings.HasSuffix(strings.ToLower(source), ".csv") {
		return loadCSVCredentials(source)
	}
	return nil, fmt.Errorf("no credentials loader for source %q", source)
}

// Apply exports the credentials to the environment, where scheme extensions
// such as the S3 backend pick them up.
func (c *Credentials) Apply() error {
	if err := os.Setenv("AWS_ACCESS_KEY_ID", c.AccessKeyID); err != nil {
		return err
	}
	return os.Setenv("AWS_SECRET_ACCESS_KEY", c.SecretAccessKey)
}

func loadEnvCredentials() (*Credentials, error) {
	creds := &Credentials{
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
	}
	return creds, nil
}

func loadCSVCredentials(path string) (*Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credentials file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials header: %w", err)
	}
	row, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials row: %w", err)
	}

	fields := map[string]string{}
	for i, name := range header {
		if i >= len(row) {
			break
		}
		// Strip the BOM some consoles prepend to the first header cell.
		name = strings.TrimPrefix(strings.TrimSpace(name), "﻿")
		fields[strings.ToLower(name)] = strings.TrimSpace(row[i])
	}

	creds := &Credentials{
		AccessKeyID:     firstMatch(fields, accessKeyAliases),
		SecretAccessKey: firstMatch(fields, secretKeyAliases),
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, fmt.Errorf("required credential field not found in %s", path)
	}
	return creds, nil
}

func firstMatch(fields map[string]string, aliases []string) string {
	for _, alias := range aliases {
		if value := fields[alias]; value != "" {
			return value
		}
	}
	return ""
}
