// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ec2 is the overseer adapter for workers on EC2 instances.
//
// Spawn launches an instance (on-demand or spot) from a fleet image
// that carries the worker shim binary, injecting the worker's identity
// and TLS material through cloud-init user data; the shim starts at
// boot and dials the overseer. Connect is the SSH readiness probe: it
// waits for the instance to accept SSH and restarts the shim if it is
// not running, which is what re-establishes the control channel after
// a shim crash. Terminate releases the instance.
//
// Instance options (image, type, subnet, tags) are forwarded to the
// EC2 API verbatim; the adapter does not interpret them.
package ec2

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/overseer/lib/clock"
	"github.com/bureau-foundation/overseer/overseer"
)

// Compile-time interface check.
var _ overseer.Adapter = (*Adapter)(nil)

// API is the slice of the EC2 client the adapter uses. Tests inject a
// fake.
type API interface {
	RunInstances(ctx context.Context, params *awsec2.RunInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.RunInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *awsec2.TerminateInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.TerminateInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *awsec2.DescribeInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.DescribeInstancesOutput, error)
}

// Config describes how to run EC2 workers.
type Config struct {
	// Prefix is the worker name prefix. Default "w".
	Prefix string

	// Image is the AMI id of the fleet image. Required. The image
	// must carry the worker shim at ShimPath.
	Image string

	// Type is the instance type (e.g. "c6i.xlarge"). Required.
	Type string

	// Spot requests one-time spot capacity instead of on-demand.
	Spot bool

	// Subnet places the instance; empty uses the default subnet.
	Subnet string

	// Region selects the EC2 endpoint when the adapter constructs
	// its own client.
	Region string

	// SecurityGroups and Tags are forwarded verbatim.
	SecurityGroups []string
	Tags           map[string]string

	// KeyName is the EC2 key pair enabling the SSH probe.
	KeyName string

	// OverseerAddr and OverseerID are injected into the instance so
	// the shim can dial back. Required.
	OverseerAddr string
	OverseerID   string

	// WorkerCertPEM, WorkerKeyPEM, and CAPEM are the TLS identity
	// written onto the instance for the shim. Empty means the shim
	// runs with --insecure.
	WorkerCertPEM []byte
	WorkerKeyPEM  []byte
	CAPEM         []byte

	// ShimPath is the worker shim location on the image. Default
	// "/usr/local/bin/overseer-worker".
	ShimPath string

	// SSHUser and SSHKeyPEM drive the Connect probe. Connect is a
	// no-op when SSHKeyPEM is empty.
	SSHUser   string
	SSHKeyPEM []byte

	// SSHRetryInterval paces the readiness probe. Default 5s.
	SSHRetryInterval time.Duration

	// Client overrides the EC2 API client (tests). Nil constructs
	// one from the ambient AWS configuration and Region.
	Client API

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Adapter provisions EC2 workers.
type Adapter struct {
	config Config
	api    API
	clock  clock.Clock
	logger *slog.Logger
	signer ssh.Signer
}

// New validates the config and returns an adapter, constructing an
// EC2 client unless one was injected.
func New(ctx context.Context, config Config) (*Adapter, error) {
	if config.Image == "" || config.Type == "" {
		return nil, errors.New("ec2 adapter: Image and Type required")
	}
	if config.OverseerAddr == "" || config.OverseerID == "" {
		return nil, errors.New("ec2 adapter: OverseerAddr and OverseerID required")
	}
	if config.Prefix == "" {
		config.Prefix = "w"
	}
	if config.ShimPath == "" {
		config.ShimPath = "/usr/local/bin/overseer-worker"
	}
	if config.SSHUser == "" {
		config.SSHUser = "ec2-user"
	}
	if config.SSHRetryInterval == 0 {
		config.SSHRetryInterval = 5 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	api := config.Client
	if api == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(config.Region))
		if err != nil {
			return nil, fmt.Errorf("ec2 adapter: loading AWS configuration: %w", err)
		}
		api = awsec2.NewFromConfig(awsCfg)
	}

	var signer ssh.Signer
	if len(config.SSHKeyPEM) > 0 {
		var err error
		signer, err = ssh.ParsePrivateKey(config.SSHKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("ec2 adapter: parsing SSH key: %w", err)
		}
	}

	return &Adapter{
		config: config,
		api:    api,
		clock:  config.Clock,
		logger: config.Logger,
		signer: signer,
	}, nil
}

// Spawn launches one instance and returns its labor. The instance
// boots, cloud-init starts the shim, and the shim dials the overseer;
// Spawn returns as soon as the instance id is known.
func (a *Adapter) Spawn(ctx context.Context) (*overseer.Labor, error) {
	host := a.config.Region
	if host == "" {
		host = "aws"
	}
	name := fmt.Sprintf("%s-%s@%s", a.config.Prefix, randomSuffix(), host)

	userData, err := a.userData(name)
	if err != nil {
		return nil, fmt.Errorf("rendering user data: %w", err)
	}

	tags := []types.Tag{{Key: aws.String("Name"), Value: aws.String(name)}}
	for key, value := range a.config.Tags {
		tags = append(tags, types.Tag{Key: aws.String(key), Value: aws.String(value)})
	}

	input := &awsec2.RunInstancesInput{
		ImageId:      aws.String(a.config.Image),
		InstanceType: types.InstanceType(a.config.Type),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		UserData:     aws.String(base64.StdEncoding.EncodeToString(userData)),
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags:         tags,
		}},
	}
	if a.config.Subnet != "" {
		input.SubnetId = aws.String(a.config.Subnet)
	}
	if len(a.config.SecurityGroups) > 0 {
		input.SecurityGroupIds = a.config.SecurityGroups
	}
	if a.config.KeyName != "" {
		input.KeyName = aws.String(a.config.KeyName)
	}
	if a.config.Spot {
		input.InstanceMarketOptions = &types.InstanceMarketOptionsRequest{
			MarketType: types.MarketTypeSpot,
			SpotOptions: &types.SpotMarketOptions{
				SpotInstanceType: types.SpotInstanceTypeOneTime,
			},
		}
	}

	output, err := a.api.RunInstances(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("launching instance: %w", err)
	}
	if len(output.Instances) == 0 || output.Instances[0].InstanceId == nil {
		return nil, errors.New("launch returned no instance")
	}
	instanceID := *output.Instances[0].InstanceId

	a.logger.Info("instance launched",
		"worker", name,
		"instance", instanceID,
		"type", a.config.Type,
		"spot", a.config.Spot,
	)
	return &overseer.Labor{
		Name:   name,
		Handle: instanceID,
		Phase:  overseer.PhaseSpawning,
	}, nil
}

// Terminate releases the instance. EC2 treats terminating an
// already-terminated instance as success, which gives the adapter its
// idempotence.
func (a *Adapter) Terminate(ctx context.Context, labor *overseer.Labor) (*overseer.Labor, error) {
	instanceID, ok := labor.Handle.(string)
	if !ok {
		return nil, fmt.Errorf("ec2 adapter: labor %s has handle %T, want instance id", labor.Name, labor.Handle)
	}

	_, err := a.api.TerminateInstances(ctx, &awsec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, fmt.Errorf("terminating %s: %w", instanceID, err)
	}

	terminated := *labor
	terminated.Phase = overseer.PhaseTerminated
	return &terminated, nil
}

// Connect probes the instance over SSH until it is reachable, then
// makes sure the shim is running. Without SSH material it is a no-op —
// cloud-init alone brings the shim up.
func (a *Adapter) Connect(ctx context.Context, labor *overseer.Labor) error {
	if a.signer == nil {
		return nil
	}
	instanceID, ok := labor.Handle.(string)
	if !ok {
		return fmt.Errorf("ec2 adapter: labor %s has handle %T, want instance id", labor.Name, labor.Handle)
	}

	for {
		address, err := a.instanceAddress(ctx, instanceID)
		if err == nil {
			err = a.probe(address, labor.Name)
			if err == nil {
				return nil
			}
		}

		a.logger.Debug("ssh probe not ready", "worker", labor.Name, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("ssh probe for %s: %w", labor.Name, ctx.Err())
		case <-a.clock.After(a.config.SSHRetryInterval):
		}
	}
}

// instanceAddress resolves the instance's dialable IP, preferring the
// public one.
func (a *Adapter) instanceAddress(ctx context.Context, instanceID string) (string, error) {
	output, err := a.api.DescribeInstances(ctx, &awsec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return "", err
	}
	for _, reservation := range output.Reservations {
		for _, instance := range reservation.Instances {
			if instance.State != nil && instance.State.Name != types.InstanceStateNameRunning {
				return "", fmt.Errorf("instance %s is %s", instanceID, instance.State.Name)
			}
			if instance.PublicIpAddress != nil {
				return *instance.PublicIpAddress, nil
			}
			if instance.PrivateIpAddress != nil {
				return *instance.PrivateIpAddress, nil
			}
		}
	}
	return "", fmt.Errorf("instance %s has no address", instanceID)
}

// probe opens an SSH session and ensures the shim is running.
func (a *Adapter) probe(address, name string) error {
	client, err := ssh.Dial("tcp", address+":22", &ssh.ClientConfig{
		User: a.config.SSHUser,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(a.signer)},
		// Fleet instances are ephemeral and their host keys unknown
		// at launch; identity on the control channel comes from the
		// worker's TLS client certificate, not from SSH.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	return session.Run(a.ensureShimCommand(name))
}

// ensureShimCommand restarts the shim if it is not running. Used both
// by the first readiness probe (where cloud-init normally won the
// race) and by reconnect attempts after a shim crash.
func (a *Adapter) ensureShimCommand(name string) string {
	return fmt.Sprintf(
		"pgrep -f 'overseer-worker.*--name %s' >/dev/null || nohup %s >/var/log/overseer-worker.log 2>&1 &",
		name, a.shimInvocation(name),
	)
}

// randomSuffix returns 6 hex characters of OS randomness.
func randomSuffix() string {
	var raw [3]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic("ec2 adapter: reading randomness: " + err.Error())
	}
	return hex.EncodeToString(raw[:])
}

// Instance paths for the TLS material cloud-init writes.
const (
	certPath = "/etc/overseer/worker.crt"
	keyPath  = "/etc/overseer/worker.key"
	caPath   = "/etc/overseer/ca.crt"
)

// cloudConfig is the subset of cloud-init's #cloud-config schema the
// adapter renders.
type cloudConfig struct {
	WriteFiles []cloudFile `yaml:"write_files,omitempty"`
	RunCmd     []string    `yaml:"runcmd"`
}

type cloudFile struct {
	Path        string `yaml:"path"`
	Content     string `yaml:"content"`
	Permissions string `yaml:"permissions"`
}

// shimInvocation is the worker shim command line for this worker.
func (a *Adapter) shimInvocation(name string) string {
	invocation := fmt.Sprintf("%s --name %s --overseer %s --overseer-id %s --workdir /var/lib/overseer",
		a.config.ShimPath, name, a.config.OverseerAddr, a.config.OverseerID)
	if len(a.config.WorkerCertPEM) > 0 {
		invocation += fmt.Sprintf(" --cert %s --key %s --ca %s", certPath, keyPath, caPath)
	} else {
		invocation += " --insecure"
	}
	return invocation
}

// userData renders the #cloud-config document that brings the shim up
// at boot.
func (a *Adapter) userData(name string) ([]byte, error) {
	cfg := cloudConfig{
		RunCmd: []string{
			"mkdir -p /var/lib/overseer",
			fmt.Sprintf("nohup %s >/var/log/overseer-worker.log 2>&1 &", a.shimInvocation(name)),
		},
	}
	if len(a.config.WorkerCertPEM) > 0 {
		cfg.WriteFiles = []cloudFile{
			{Path: certPath, Content: string(a.config.WorkerCertPEM), Permissions: "0644"},
			{Path: keyPath, Content: string(a.config.WorkerKeyPEM), Permissions: "0600"},
			{Path: caPath, Content: string(a.config.CAPEM), Permissions: "0644"},
		}
	}

	rendered, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	return append([]byte("#cloud-config\n"), rendered...), nil
}
