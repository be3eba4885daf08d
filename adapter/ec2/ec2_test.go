// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ec2

import (
	"context"
	"encoding/base64"
	"regexp"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/overseer/overseer"
)

type fakeEC2 struct {
	runInput        *awsec2.RunInstancesInput
	terminateInput  *awsec2.TerminateInstancesInput
	describeOutput  *awsec2.DescribeInstancesOutput
	instanceCounter int
}

func (f *fakeEC2) RunInstances(_ context.Context, params *awsec2.RunInstancesInput, _ ...func(*awsec2.Options)) (*awsec2.RunInstancesOutput, error) {
	f.runInput = params
	f.instanceCounter++
	return &awsec2.RunInstancesOutput{
		Instances: []types.Instance{{InstanceId: aws.String("i-0abc123")}},
	}, nil
}

func (f *fakeEC2) TerminateInstances(_ context.Context, params *awsec2.TerminateInstancesInput, _ ...func(*awsec2.Options)) (*awsec2.TerminateInstancesOutput, error) {
	f.terminateInput = params
	return &awsec2.TerminateInstancesOutput{}, nil
}

func (f *fakeEC2) DescribeInstances(_ context.Context, _ *awsec2.DescribeInstancesInput, _ ...func(*awsec2.Options)) (*awsec2.DescribeInstancesOutput, error) {
	return f.describeOutput, nil
}

func testConfig(fake *fakeEC2) Config {
	return Config{
		Image:        "ami-0fleet",
		Type:         "c6i.xlarge",
		Region:       "eu-west-1",
		OverseerAddr: "203.0.113.9:7891",
		OverseerID:   "ov-prod",
		Client:       fake,
	}
}

func TestSpawnLaunchesInstance(t *testing.T) {
	fake := &fakeEC2{}
	adapter, err := New(context.Background(), testConfig(fake))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	labor, err := adapter.Spawn(context.Background())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if labor.Handle != "i-0abc123" {
		t.Errorf("handle = %v, want instance id", labor.Handle)
	}
	if labor.Phase != overseer.PhaseSpawning {
		t.Errorf("phase = %s, want spawning", labor.Phase)
	}

	pattern := regexp.MustCompile(`^w-[0-9a-f]{6}@eu-west-1$`)
	if !pattern.MatchString(labor.Name) {
		t.Errorf("name %q does not match prefix-random@region", labor.Name)
	}

	input := fake.runInput
	if input == nil {
		t.Fatal("RunInstances not called")
	}
	if *input.ImageId != "ami-0fleet" {
		t.Errorf("ImageId = %s", *input.ImageId)
	}
	if input.InstanceType != types.InstanceType("c6i.xlarge") {
		t.Errorf("InstanceType = %s", input.InstanceType)
	}
	if input.InstanceMarketOptions != nil {
		t.Error("on-demand launch set market options")
	}
}

func TestSpawnSpotSetsMarketOptions(t *testing.T) {
	fake := &fakeEC2{}
	config := testConfig(fake)
	config.Spot = true
	adapter, err := New(context.Background(), config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := adapter.Spawn(context.Background()); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	options := fake.runInput.InstanceMarketOptions
	if options == nil || options.MarketType != types.MarketTypeSpot {
		t.Fatalf("market options = %+v, want spot", options)
	}
}

func TestSpawnUserDataIsCloudConfig(t *testing.T) {
	fake := &fakeEC2{}
	config := testConfig(fake)
	config.WorkerCertPEM = []byte("CERT")
	config.WorkerKeyPEM = []byte("KEY")
	config.CAPEM = []byte("CA")
	adapter, err := New(context.Background(), config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	labor, err := adapter.Spawn(context.Background())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(*fake.runInput.UserData)
	if err != nil {
		t.Fatalf("user data is not base64: %v", err)
	}
	if !strings.HasPrefix(string(raw), "#cloud-config\n") {
		t.Fatalf("user data missing #cloud-config header: %q", raw[:20])
	}

	var cfg cloudConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		t.Fatalf("user data is not valid YAML: %v", err)
	}

	if len(cfg.WriteFiles) != 3 {
		t.Fatalf("write_files = %d entries, want 3", len(cfg.WriteFiles))
	}
	if cfg.WriteFiles[1].Permissions != "0600" {
		t.Errorf("worker key permissions = %s, want 0600", cfg.WriteFiles[1].Permissions)
	}

	joined := strings.Join(cfg.RunCmd, "\n")
	for _, want := range []string{labor.Name, "203.0.113.9:7891", "ov-prod", "--cert"} {
		if !strings.Contains(joined, want) {
			t.Errorf("runcmd missing %q:\n%s", want, joined)
		}
	}
}

func TestSpawnInsecureWithoutCerts(t *testing.T) {
	fake := &fakeEC2{}
	adapter, err := New(context.Background(), testConfig(fake))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := adapter.Spawn(context.Background()); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	raw, _ := base64.StdEncoding.DecodeString(*fake.runInput.UserData)
	var cfg cloudConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(cfg.WriteFiles) != 0 {
		t.Error("insecure config wrote TLS files")
	}
	if !strings.Contains(strings.Join(cfg.RunCmd, "\n"), "--insecure") {
		t.Error("runcmd missing --insecure")
	}
}

func TestTerminate(t *testing.T) {
	fake := &fakeEC2{}
	adapter, err := New(context.Background(), testConfig(fake))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	labor := &overseer.Labor{Name: "w-abc@eu-west-1", Handle: "i-0abc123"}
	terminated, err := adapter.Terminate(context.Background(), labor)
	if err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if terminated.Phase != overseer.PhaseTerminated {
		t.Errorf("phase = %s, want terminated", terminated.Phase)
	}
	if fake.terminateInput == nil || fake.terminateInput.InstanceIds[0] != "i-0abc123" {
		t.Errorf("TerminateInstances input = %+v", fake.terminateInput)
	}

	if _, err := adapter.Terminate(context.Background(), &overseer.Labor{Name: "w", Handle: 42}); err == nil {
		t.Error("Terminate accepted a non-string handle")
	}
}

func TestConnectNoOpWithoutSSHKey(t *testing.T) {
	fake := &fakeEC2{}
	adapter, err := New(context.Background(), testConfig(fake))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := adapter.Connect(context.Background(), &overseer.Labor{Name: "w", Handle: "i-0abc123"}); err != nil {
		t.Errorf("Connect without SSH key: %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(context.Background(), Config{Type: "t3.micro", OverseerAddr: "a", OverseerID: "b", Client: &fakeEC2{}}); err == nil {
		t.Error("New accepted config without Image")
	}
	if _, err := New(context.Background(), Config{Image: "ami-1", Type: "t3.micro", Client: &fakeEC2{}}); err == nil {
		t.Error("New accepted config without overseer address")
	}
}
