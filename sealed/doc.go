// Package sealed encrypts stored values with a passphrase-derived key.
//
// A Codec implements the webstorage Codec seam: each value is sealed with
// XChaCha20-Poly1305 under a per-slot subkey derived from the master key
// via HKDF-SHA256, with the slot bound into the associated data, so a
// ciphertext moved to another key decrypts for no one. The master key
// comes from Argon2id over a passphrase and salt and lives in a memguard
// locked buffer.
//
// Seal and Open do the same for whole documents, deriving a fresh key per
// call and recording the KDF parameters in the envelope so the file is
// self-describing.
package sealed
