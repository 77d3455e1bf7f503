package aws

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/picklr-io/appstack/internal/provider"
)

type VpcConfig struct {
	CidrBlock          string            `json:"cidrBlock"`
	EnableDnsHostnames bool              `json:"enableDnsHostnames"`
	EnableDnsSupport   bool              `json:"enableDnsSupport"`
	Tags               map[string]string `json:"tags"`
}

type VpcState struct {
	ID        string `json:"id"`
	CidrBlock string `json:"cidrBlock"`
}

type SubnetConfig struct {
	VpcID               string            `json:"vpcId"`
	CidrBlock           string            `json:"cidrBlock"`
	AvailabilityZone    string            `json:"availabilityZone"`
	MapPublicIpOnLaunch bool              `json:"mapPublicIpOnLaunch"`
	Tags                map[string]string `json:"tags"`
}

type SubnetState struct {
	ID               string `json:"id"`
	VpcID            string `json:"vpcId"`
	AvailabilityZone string `json:"availabilityZone"`
}

type InternetGatewayConfig struct {
	VpcID string            `json:"vpcId"`
	Tags  map[string]string `json:"tags"`
}

type InternetGatewayState struct {
	ID    string `json:"id"`
	VpcID string `json:"vpcId"`
}

type RouteConfig struct {
	DestinationCidrBlock string `json:"destinationCidrBlock"`
	GatewayID            string `json:"gatewayId"`
}

type RouteTableConfig struct {
	VpcID     string            `json:"vpcId"`
	Routes    []RouteConfig     `json:"routes"`
	SubnetIDs []string          `json:"subnetIds"`
	Tags      map[string]string `json:"tags"`
}

type RouteTableState struct {
	ID string `json:"id"`
	// Associations maps subnet id to association id.
	Associations map[string]string `json:"associations"`
}

// tagSpec tags a resource at creation.
func tagSpec(rt types.ResourceType, tags map[string]string) []types.TagSpecification {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	spec := types.TagSpecification{ResourceType: rt}
	for _, k := range keys {
		spec.Tags = append(spec.Tags, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return []types.TagSpecification{spec}
}

func (p *Provider) applyVpc(ctx context.Context, req *provider.ApplyRequest) (*VpcState, error) {
	desired, err := decodeDesired[VpcConfig](req)
	if err != nil {
		return nil, err
	}

	resp, err := p.ec2Client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock:         &desired.CidrBlock,
		TagSpecifications: tagSpec(types.ResourceTypeVpc, desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create VPC: %w", err)
	}
	vpcID := resp.Vpc.VpcId

	if err := ec2.NewVpcAvailableWaiter(p.ec2Client).Wait(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{*vpcID}}, waitShort); err != nil {
		return nil, fmt.Errorf("failed to wait for VPC: %w", err)
	}

	// one attribute per call
	if _, err := p.ec2Client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
		VpcId:            vpcID,
		EnableDnsSupport: &types.AttributeBooleanValue{Value: aws.Bool(desired.EnableDnsSupport)},
	}); err != nil {
		return nil, fmt.Errorf("failed to set VPC DNS support: %w", err)
	}
	if _, err := p.ec2Client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
		VpcId:              vpcID,
		EnableDnsHostnames: &types.AttributeBooleanValue{Value: aws.Bool(desired.EnableDnsHostnames)},
	}); err != nil {
		return nil, fmt.Errorf("failed to set VPC DNS hostnames: %w", err)
	}

	p.log.Info("created vpc", "name", req.Name, "id", *vpcID)
	return &VpcState{ID: *vpcID, CidrBlock: desired.CidrBlock}, nil
}

func (p *Provider) deleteVpc(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[VpcState](req)
	if err != nil || prior.ID == "" {
		return err
	}
	if _, err := p.ec2Client.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: &prior.ID}); err != nil {
		return fmt.Errorf("failed to delete VPC: %w", err)
	}
	return nil
}

func (p *Provider) applySubnet(ctx context.Context, req *provider.ApplyRequest) (*SubnetState, error) {
	desired, err := decodeDesired[SubnetConfig](req)
	if err != nil {
		return nil, err
	}

	input := &ec2.CreateSubnetInput{
		VpcId:             &desired.VpcID,
		CidrBlock:         &desired.CidrBlock,
		TagSpecifications: tagSpec(types.ResourceTypeSubnet, desired.Tags),
	}
	if desired.AvailabilityZone != "" {
		input.AvailabilityZone = &desired.AvailabilityZone
	}
	resp, err := p.ec2Client.CreateSubnet(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create subnet: %w", err)
	}

	if desired.MapPublicIpOnLaunch {
		if _, err := p.ec2Client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            resp.Subnet.SubnetId,
			MapPublicIpOnLaunch: &types.AttributeBooleanValue{Value: aws.Bool(true)},
		}); err != nil {
			return nil, fmt.Errorf("failed to enable public IPs on subnet: %w", err)
		}
	}

	return &SubnetState{
		ID:               *resp.Subnet.SubnetId,
		VpcID:            *resp.Subnet.VpcId,
		AvailabilityZone: aws.ToString(resp.Subnet.AvailabilityZone),
	}, nil
}

func (p *Provider) deleteSubnet(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[SubnetState](req)
	if err != nil || prior.ID == "" {
		return err
	}
	if _, err := p.ec2Client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: &prior.ID}); err != nil {
		return fmt.Errorf("failed to delete subnet: %w", err)
	}
	return nil
}

func (p *Provider) applyInternetGateway(ctx context.Context, req *provider.ApplyRequest) (*InternetGatewayState, error) {
	desired, err := decodeDesired[InternetGatewayConfig](req)
	if err != nil {
		return nil, err
	}

	resp, err := p.ec2Client.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{
		TagSpecifications: tagSpec(types.ResourceTypeInternetGateway, desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create internet gateway: %w", err)
	}
	igwID := resp.InternetGateway.InternetGatewayId

	if _, err := p.ec2Client.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
		InternetGatewayId: igwID,
		VpcId:             &desired.VpcID,
	}); err != nil {
		return nil, fmt.Errorf("failed to attach internet gateway: %w", err)
	}

	return &InternetGatewayState{ID: *igwID, VpcID: desired.VpcID}, nil
}

func (p *Provider) deleteInternetGateway(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[InternetGatewayState](req)
	if err != nil || prior.ID == "" {
		return err
	}
	if prior.VpcID != "" {
		if _, err := p.ec2Client.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
			InternetGatewayId: &prior.ID,
			VpcId:             &prior.VpcID,
		}); err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to detach internet gateway: %w", err)
		}
	}
	if _, err := p.ec2Client.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{InternetGatewayId: &prior.ID}); err != nil {
		return fmt.Errorf("failed to delete internet gateway: %w", err)
	}
	return nil
}

func (p *Provider) applyRouteTable(ctx context.Context, req *provider.ApplyRequest) (*RouteTableState, error) {
	desired, err := decodeDesired[RouteTableConfig](req)
	if err != nil {
		return nil, err
	}

	resp, err := p.ec2Client.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{
		VpcId:             &desired.VpcID,
		TagSpecifications: tagSpec(types.ResourceTypeRouteTable, desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create route table: %w", err)
	}
	state := &RouteTableState{ID: *resp.RouteTable.RouteTableId, Associations: map[string]string{}}

	for _, r := range desired.Routes {
		if _, err := p.ec2Client.CreateRoute(ctx, &ec2.CreateRouteInput{
			RouteTableId:         &state.ID,
			DestinationCidrBlock: aws.String(r.DestinationCidrBlock),
			GatewayId:            aws.String(r.GatewayID),
		}); err != nil {
			return nil, fmt.Errorf("failed to create route %s: %w", r.DestinationCidrBlock, err)
		}
	}

	for _, subnetID := range desired.SubnetIDs {
		assoc, err := p.ec2Client.AssociateRouteTable(ctx, &ec2.AssociateRouteTableInput{
			RouteTableId: &state.ID,
			SubnetId:     aws.String(subnetID),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to associate route table with %s: %w", subnetID, err)
		}
		state.Associations[subnetID] = aws.ToString(assoc.AssociationId)
	}
	return state, nil
}

func (p *Provider) deleteRouteTable(ctx context.Context, req *provider.DeleteRequest) error {
	prior, err := decodeCurrent[RouteTableState](req)
	if err != nil || prior.ID == "" {
		return err
	}
	for subnetID, assocID := range prior.Associations {
		if _, err := p.ec2Client.DisassociateRouteTable(ctx, &ec2.DisassociateRouteTableInput{
			AssociationId: aws.String(assocID),
		}); err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to disassociate route table from %s: %w", subnetID, err)
		}
	}
	if _, err := p.ec2Client.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{RouteTableId: &prior.ID}); err != nil {
		return fmt.Errorf("failed to delete route table: %w", err)
	}
	return nil
}
