package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// certifyChainABI is the fixed interface of the deployed CertifyChain contract.
// The contract address is supplied via configuration; the ABI never changes.
const certifyChainABI = `[
  {"type":"function","name":"signup","stateMutability":"nonpayable",
   "inputs":[{"name":"_name","type":"string"},{"name":"_isHR","type":"bool"}],
   "outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"users","stateMutability":"view",
   "inputs":[{"name":"","type":"address"}],
   "outputs":[{"name":"name","type":"string"},{"name":"isHR","type":"bool"},{"name":"isRegistered","type":"bool"}]},
  {"type":"function","name":"issueCertificate","stateMutability":"nonpayable",
   "inputs":[{"name":"_recipient","type":"address"},{"name":"_name","type":"string"},{"name":"_ipfsHash","type":"string"}],
   "outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"verifyCertificate","stateMutability":"view",
   "inputs":[{"name":"certId","type":"bytes32"}],
   "outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"revokeCertificate","stateMutability":"nonpayable",
   "inputs":[{"name":"certId","type":"bytes32"}],
   "outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"certificates","stateMutability":"view",
   "inputs":[{"name":"","type":"bytes32"}],
   "outputs":[{"name":"name","type":"string"},{"name":"issuer","type":"address"},{"name":"recipient","type":"address"},
              {"name":"ipfsHash","type":"string"},{"name":"issueDate","type":"uint256"},{"name":"isValid","type":"bool"}]},
  {"type":"function","name":"getUserCertificates","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"tuple[]","components":[
      {"name":"name","type":"string"},{"name":"issuer","type":"address"},{"name":"recipient","type":"address"},
      {"name":"ipfsHash","type":"string"},{"name":"issueDate","type":"uint256"},{"name":"isValid","type":"bool"}]},
    {"name":"","type":"string"}]},
  {"type":"event","name":"UserRegistered","inputs":[
    {"name":"user","type":"address","indexed":false},
    {"name":"name","type":"string","indexed":false},
    {"name":"isHR","type":"bool","indexed":false}]},
  {"type":"event","name":"CertificateIssued","inputs":[
    {"name":"issuer","type":"address","indexed":true},
    {"name":"recipient","type":"address","indexed":true},
    {"name":"certId","type":"bytes32","indexed":false},
    {"name":"name","type":"string","indexed":false}]},
  {"type":"event","name":"CertificateRevoked","inputs":[
    {"name":"certId","type":"bytes32","indexed":false}]}
]`

// EventCertificateIssued / EventCertificateRevoked are the contract event names
// used for log filtering and receipt decoding.
const (
	EventCertificateIssued  = "CertificateIssued"
	EventCertificateRevoked = "CertificateRevoked"
)

func parseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(certifyChainABI))
	if err != nil {
		panic("chain: invalid embedded ABI: " + err.Error())
	}
	return parsed
}

var contractABI = parseABI()
