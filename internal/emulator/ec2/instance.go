package ec2

// Instance is the data served for a single machine. For an explanation of the categories refer to
// the AWS EC2 Instance Metadata documentation.
//
//	https://docs.aws.amazon.com/AWSEC2/latest/UserGuide/instancedata-data-categories.html
//
// Only the categories the agent consumes are modelled.
type Instance struct {
	Userdata string
	Metadata Metadata
}

// Metadata is a part of Instance.
type Metadata struct {
	InstanceID       string
	Hostname         string
	LocalHostname    string
	InstanceType     string
	AvailabilityZone string
	Region           string
	Tags             []string
	PublicKeys       []PublicKey
	PublicIPv4       string
	LocalIPv4        string
}

// PublicKey is a named OpenSSH public key.
type PublicKey struct {
	Name string
	Key  string
}
