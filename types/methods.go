package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ToBin serializes the tokens as little-endian integers, 32-bit wide
// if useUint32 is set and 16-bit wide otherwise.
func (tokens Tokens) ToBin(useUint32 bool) ([]byte, error) {
	if useUint32 {
		return tokens.ToBin32()
	}
	return tokens.ToBin16()
}

func (tokens Tokens) ToBin16() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, len(tokens)*2))
	for idx := range tokens {
		token := tokens[idx]
		if token > 65535 {
			return nil, fmt.Errorf(
				"integer overflow: tried to write token id %d as "+
					"unsigned 16-bit", token)
		}
		if err := binary.Write(buf, binary.LittleEndian,
			uint16(token)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (tokens Tokens) ToBin32() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, len(tokens)*4))
	for idx := range tokens {
		if err := binary.Write(buf, binary.LittleEndian,
			uint32(tokens[idx])); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// TokensFromBin deserializes a little-endian 16-bit token stream.
func TokensFromBin(bin []byte) Tokens {
	tokens := make(Tokens, 0, len(bin)/2)
	buf := bytes.NewReader(bin)
	for {
		var token uint16
		if err := binary.Read(buf, binary.LittleEndian, &token); err != nil {
			break
		}
		tokens = append(tokens, Token(token))
	}
	return tokens
}

// TokensFromBin32 deserializes a little-endian 32-bit token stream.
func TokensFromBin32(bin []byte) Tokens {
	tokens := make(Tokens, 0, len(bin)/4)
	buf := bytes.NewReader(bin)
	for {
		var token uint32
		if err := binary.Read(buf, binary.LittleEndian, &token); err != nil {
			break
		}
		tokens = append(tokens, Token(token))
	}
	return tokens
}
