// =============================================================================
// 📦 测试数据工厂 - 工作流图
// =============================================================================
package fixtures

// TextToImage 是一张完整、可通过校验的文生图工作流
const TextToImage = `{
  "1": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "sd_xl_base_1.0.safetensors"}, "_meta": {"title": "Load Checkpoint"}},
  "2": {"class_type": "CLIPTextEncode", "inputs": {"text": "a lighthouse at dusk", "clip": ["1", 1]}},
  "3": {"class_type": "CLIPTextEncode", "inputs": {"text": "blurry", "clip": ["1", 1]}},
  "4": {"class_type": "EmptyLatentImage", "inputs": {"width": 1024, "height": 1024, "batch_size": 1}},
  "5": {"class_type": "KSampler", "inputs": {
    "model": ["1", 0], "seed": 42, "steps": 20, "cfg": 7.0,
    "sampler_name": "euler", "scheduler": "normal",
    "positive": ["2", 0], "negative": ["3", 0], "latent_image": ["4", 0], "denoise": 1.0
  }},
  "6": {"class_type": "VAEDecode", "inputs": {"samples": ["5", 0], "vae": ["1", 2]}},
  "7": {"class_type": "SaveImage", "inputs": {"images": ["6", 0], "filename_prefix": "lighthouse"}}
}`

// MissingModelLink 与 TextToImage 相同，但 KSampler 缺少 model 连接
const MissingModelLink = `{
  "1": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "sd_xl_base_1.0.safetensors"}},
  "2": {"class_type": "CLIPTextEncode", "inputs": {"text": "a lighthouse at dusk", "clip": ["1", 1]}},
  "3": {"class_type": "CLIPTextEncode", "inputs": {"text": "blurry", "clip": ["1", 1]}},
  "4": {"class_type": "EmptyLatentImage", "inputs": {"width": 1024, "height": 1024, "batch_size": 1}},
  "5": {"class_type": "KSampler", "inputs": {
    "seed": 42, "steps": 20, "cfg": 7.0,
    "sampler_name": "euler", "scheduler": "normal",
    "positive": ["2", 0], "negative": ["3", 0], "latent_image": ["4", 0], "denoise": 1.0
  }},
  "6": {"class_type": "VAEDecode", "inputs": {"samples": ["5", 0], "vae": ["1", 2]}},
  "7": {"class_type": "SaveImage", "inputs": {"images": ["6", 0], "filename_prefix": "lighthouse"}}
}`

// BadSampler 与 TextToImage 相同，但采样器名称不在可选列表中
const BadSampler = `{
  "1": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "sd_xl_base_1.0.safetensors"}},
  "2": {"class_type": "CLIPTextEncode", "inputs": {"text": "a lighthouse at dusk", "clip": ["1", 1]}},
  "3": {"class_type": "CLIPTextEncode", "inputs": {"text": "blurry", "clip": ["1", 1]}},
  "4": {"class_type": "EmptyLatentImage", "inputs": {"width": 1024, "height": 1024, "batch_size": 1}},
  "5": {"class_type": "KSampler", "inputs": {
    "model": ["1", 0], "seed": 42, "steps": 20, "cfg": 7.0,
    "sampler_name": "DPM++ 2M", "scheduler": "normal",
    "positive": ["2", 0], "negative": ["3", 0], "latent_image": ["4", 0], "denoise": 1.0
  }},
  "6": {"class_type": "VAEDecode", "inputs": {"samples": ["5", 0], "vae": ["1", 2]}},
  "7": {"class_type": "SaveImage", "inputs": {"images": ["6", 0], "filename_prefix": "lighthouse"}}
}`
