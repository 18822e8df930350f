package descriptor

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	// maxDERSigLen is the size of the largest DER encoded signature
	// including the sighash flag.
	maxDERSigLen = 73

	// compressedPubKeyLen is the size of a compressed public key.
	compressedPubKeyLen = btcec.PubKeyBytesLenCompressed

	// baseInputSize is the non-witness size of a segwit input: outpoint
	// (36), empty script sig length (1) and sequence (4).
	baseInputSize = 36 + 1 + 4
)

// childKeys derives the owner and heir public keys at change/index.
func (d *Descriptor) childKeys(change, index uint32) ([]byte, []byte, error) {
	owner, err := d.owner.Child(change, index)
	if err != nil {
		return nil, nil, fmt.Errorf("owner key: %w", err)
	}

	ownerPub, err := owner.ECPubKey()
	if err != nil {
		return nil, nil, fmt.Errorf("owner key: %w", err)
	}

	heir, err := d.heir.Child(change, index)
	if err != nil {
		return nil, nil, fmt.Errorf("heir key: %w", err)
	}

	heirPub, err := heir.ECPubKey()
	if err != nil {
		return nil, nil, fmt.Errorf("heir key: %w", err)
	}

	return ownerPub.SerializeCompressed(), heirPub.SerializeCompressed(),
		nil
}

// WitnessScript compiles the descriptor for the keys at change/index:
//
//	<owner> OP_CHECKSIG OP_IFDUP OP_NOTIF
//	    OP_DUP OP_HASH160 <hash160(heir)> OP_EQUALVERIFY OP_CHECKSIGVERIFY
//	    <timelock> OP_CHECKSEQUENCEVERIFY
//	OP_ENDIF
func (d *Descriptor) WitnessScript(change, index uint32) ([]byte, error) {
	ownerPub, heirPub, err := d.childKeys(change, index)
	if err != nil {
		return nil, err
	}

	builder := txscript.NewScriptBuilder()

	// or_d(pk(owner), ...): the owner branch leaves its result on the
	// stack and only falls through to the heir branch when dissatisfied.
	builder.AddData(ownerPub)
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_IFDUP)
	builder.AddOp(txscript.OP_NOTIF)

	// and_v(v:pkh(heir), older(timelock)).
	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(btcutil.Hash160(heirPub))
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_CHECKSIGVERIFY)
	builder.AddInt64(int64(d.timelock))
	builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	builder.AddOp(txscript.OP_ENDIF)

	return builder.Script()
}

// Address returns the P2WSH address of the descriptor at change/index.
func (d *Descriptor) Address(change, index uint32) (btcutil.Address, error) {
	script, err := d.WitnessScript(change, index)
	if err != nil {
		return nil, err
	}

	scriptHash := sha256.Sum256(script)

	return btcutil.NewAddressWitnessScriptHash(
		scriptHash[:], d.network.Params(),
	)
}

// PkScript returns the output script paying to the descriptor at
// change/index.
func (d *Descriptor) PkScript(change, index uint32) ([]byte, error) {
	addr, err := d.Address(change, index)
	if err != nil {
		return nil, err
	}

	return txscript.PayToAddrScript(addr)
}

// MaxSatisfactionSize returns the size in bytes of the largest witness that
// can spend an output of the descriptor, including the witness script.
func (d *Descriptor) MaxSatisfactionSize() (int, error) {
	script, err := d.WitnessScript(0, 0)
	if err != nil {
		return 0, err
	}

	scriptItem := wire.VarIntSerializeSize(uint64(len(script))) +
		len(script)

	// Owner: <sig> <script>.
	owner := wire.VarIntSerializeSize(2) + 1 + maxDERSigLen + scriptItem

	// Heir: <sig> <pubkey> <empty> <script>.
	heir := wire.VarIntSerializeSize(4) + 1 + maxDERSigLen + 1 +
		compressedPubKeyLen + 1 + scriptItem

	return max(owner, heir), nil
}

// MaxInputWeight returns the worst case weight of an input spending an
// output of the descriptor.
func (d *Descriptor) MaxInputWeight() (int64, error) {
	witnessSize, err := d.MaxSatisfactionSize()
	if err != nil {
		return 0, err
	}

	return baseInputSize*blockchain.WitnessScaleFactor +
		int64(witnessSize), nil
}
