/*
 *    Copyright [2020] Sergey Kudasov
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

package shopload

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	suiteBinaryName = "./load_suite"
	suiteMainDir    = "cmd/load"
)

var supportedPlatforms = []string{"linux", "darwin"}

// ValidatePlatform checks build platform
func ValidatePlatform(platform string) error {
	for _, p := range supportedPlatforms {
		if p == platform {
			return nil
		}
	}
	return fmt.Errorf("platform must be one of: %s", strings.Join(supportedPlatforms, "|"))
}

func buildSuiteCmd(testDir string, platform string) *exec.Cmd {
	cmd := exec.Command("go", "build", "-o", suiteBinaryName, "./"+filepath.ToSlash(filepath.Join(testDir, suiteMainDir)))
	cmd.Env = append(os.Environ(), "GOOS="+platform)
	return cmd
}

// BuildSuiteCommand builds load suite binary for platform
func BuildSuiteCommand(testDir string, platform string) error {
	if err := ValidatePlatform(platform); err != nil {
		return err
	}
	res, err := buildSuiteCmd(testDir, platform).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to build suite: out: %s, err: %w", res, err)
	}
	return nil
}

// RunSuiteCommand runs built suite binary with suite config, suite output is streamed
func RunSuiteCommand(cfgPath string, genCfgPath string) error {
	cmd := exec.Command(suiteBinaryName, "--config", cfgPath, "--gen_config", genCfgPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to run suite: %w", err)
	}
	return nil
}

// GenerateNewTestCommand adds a label and generates a GET task for it with factories and run config
func GenerateNewTestCommand(testDir string, rootPackageName string, label string, urlPath string) error {
	if label == "" {
		return fmt.Errorf("label must not be empty, prefer snake_case labels")
	}
	if !strings.HasPrefix(urlPath, "/") {
		return fmt.Errorf("path must start with /, got %q", urlPath)
	}
	labels, err := CollectLabelKVs(testDir)
	if err != nil {
		return err
	}
	for _, l := range labels {
		if l.Label == label {
			return fmt.Errorf("label %s already exists", label)
		}
	}
	labels = append(labels, LabelKV{
		Label:     label,
		LabelName: NewLabelName(label),
	})
	if err := os.MkdirAll(testDir, os.ModePerm); err != nil {
		return err
	}
	steps := []func() error{
		func() error { return CodegenMainFile(testDir, rootPackageName) },
		func() error { return CodegenAttackersFile(testDir, labels) },
		func() error { return CodegenChecksFile(testDir) },
		func() error { return CodegenLabelsFile(testDir, labels) },
		func() error { return CodegenAttackerFile(testDir, label, urlPath) },
		func() error { return GenerateSingleRunConfig(testDir, label) },
	}
	for _, s := range steps {
		if err := s(); err != nil {
			return err
		}
	}
	return nil
}
