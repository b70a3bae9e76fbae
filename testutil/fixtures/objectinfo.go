// =============================================================================
// 📦 测试数据工厂 - 节点类型目录
// =============================================================================
// 提供一份精简的 object_info 快照，覆盖常见的图像生成节点类型，
// 以及通配符输入/输出与可选输入等边界情况
// =============================================================================
package fixtures

// ObjectInfo 是执行后端 /api/object_info 返回格式的节点类型目录快照
const ObjectInfo = `{
  "CheckpointLoaderSimple": {
    "input": {"required": {"ckpt_name": [["sd_xl_base_1.0.safetensors", "v1-5-pruned-emaonly.safetensors"]]}},
    "output": ["MODEL", "CLIP", "VAE"],
    "output_name": ["MODEL", "CLIP", "VAE"],
    "display_name": "Load Checkpoint",
    "category": "loaders"
  },
  "LoraLoader": {
    "input": {"required": {
      "model": ["MODEL"],
      "clip": ["CLIP"],
      "lora_name": [["detail_tweaker.safetensors", "film_grain.safetensors"]],
      "strength_model": ["FLOAT", {"default": 1.0}],
      "strength_clip": ["FLOAT", {"default": 1.0}]
    }},
    "output": ["MODEL", "CLIP"],
    "output_name": ["MODEL", "CLIP"],
    "category": "loaders"
  },
  "VAELoader": {
    "input": {"required": {"vae_name": [["vae-ft-mse-840000-ema-pruned.safetensors"]]}},
    "output": ["VAE"],
    "category": "loaders"
  },
  "ControlNetLoader": {
    "input": {"required": {"control_net_name": [["control_canny.safetensors"]]}},
    "output": ["CONTROL_NET"],
    "category": "loaders"
  },
  "CLIPTextEncode": {
    "input": {"required": {
      "text": ["STRING", {"multiline": true}],
      "clip": ["CLIP"]
    }},
    "output": ["CONDITIONING"],
    "category": "conditioning"
  },
  "EmptyLatentImage": {
    "input": {"required": {
      "width": ["INT", {"default": 512}],
      "height": ["INT", {"default": 512}],
      "batch_size": ["INT", {"default": 1}]
    }},
    "output": ["LATENT"],
    "category": "latent"
  },
  "KSampler": {
    "input": {"required": {
      "model": ["MODEL"],
      "seed": ["INT", {"default": 0}],
      "steps": ["INT", {"default": 20}],
      "cfg": ["FLOAT", {"default": 8.0}],
      "sampler_name": [["euler", "euler_ancestral", "dpmpp_2m", "dpmpp_2m_sde"]],
      "scheduler": [["normal", "karras", "exponential"]],
      "positive": ["CONDITIONING"],
      "negative": ["CONDITIONING"],
      "latent_image": ["LATENT"],
      "denoise": ["FLOAT", {"default": 1.0}]
    }},
    "output": ["LATENT"],
    "category": "sampling"
  },
  "VAEDecode": {
    "input": {"required": {"samples": ["LATENT"], "vae": ["VAE"]}},
    "output": ["IMAGE"],
    "category": "latent"
  },
  "LoadImage": {
    "input": {"required": {"image": [["example.png", "portrait.jpg"], {"image_upload": true}]}},
    "output": ["IMAGE", "MASK"],
    "category": "image"
  },
  "ImageCompositeMasked": {
    "input": {
      "required": {
        "destination": ["IMAGE"],
        "source": ["IMAGE"],
        "x": ["INT", {"default": 0}],
        "y": ["INT", {"default": 0}]
      },
      "optional": {"mask": ["MASK"]}
    },
    "output": ["IMAGE"],
    "category": "image"
  },
  "SaveImage": {
    "input": {"required": {
      "images": ["IMAGE"],
      "filename_prefix": ["STRING", {"default": "ComfyUI"}]
    }},
    "output": [],
    "category": "image"
  },
  "PreviewAny": {
    "input": {"required": {"source": ["*"]}},
    "output": [],
    "category": "utils"
  },
  "AnyPassthrough": {
    "input": {"required": {"value": ["*"]}},
    "output": ["*"],
    "category": "utils"
  }
}`

// 以下类型名与 ObjectInfo 保持一致，供测试直接引用
const (
	ClassCheckpointLoader = "CheckpointLoaderSimple"
	ClassCLIPTextEncode   = "CLIPTextEncode"
	ClassEmptyLatent      = "EmptyLatentImage"
	ClassKSampler         = "KSampler"
	ClassVAEDecode        = "VAEDecode"
	ClassVAELoader        = "VAELoader"
	ClassSaveImage        = "SaveImage"
	ClassLoadImage        = "LoadImage"
	ClassPreviewAny       = "PreviewAny"
	ClassAnyPassthrough   = "AnyPassthrough"
)
